package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/conneroisu/ssrdev/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyPassThrough(t *testing.T) {
	asset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/app.abc123.js", r.URL.Path)
		assert.Equal(t, "v=2", r.URL.RawQuery)
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("ETag", `"abc123"`)
		_, _ = w.Write([]byte("console.log('hi')"))
	}))
	defer asset.Close()

	p, err := New(asset.URL, nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/public/app.abc123.js?v=2", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('hi')", rec.Body.String())
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	assert.Equal(t, `"abc123"`, rec.Header().Get("ETag"))
}

func TestProxyForwardsMethodAndBody(t *testing.T) {
	asset := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(r.Method + ":" + string(body)))
	}))
	defer asset.Close()

	p, err := New(asset.URL, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("POST", "/public/upload", strings.NewReader("payload")))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "POST:payload", rec.Body.String())
}

func TestProxyUpstreamStatusIsVerbatim(t *testing.T) {
	asset := httptest.NewServer(http.NotFoundHandler())
	defer asset.Close()

	p, err := New(asset.URL, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/public/missing.css", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyUnreachableIsBadGateway(t *testing.T) {
	asset := httptest.NewServer(http.NotFoundHandler())
	target := asset.URL
	asset.Close()

	m := metrics.New()
	p, err := New(target, nil, m)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/public/app.js", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "asset server unreachable")

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest("GET", "/_ssr/metrics", nil))
	assert.Contains(t, scrape.Body.String(), "ssrdev_proxy_errors_total 1")
}

func TestNewRejectsInvalidTarget(t *testing.T) {
	_, err := New("ftp://assets", nil, nil)
	assert.Error(t, err)
}
