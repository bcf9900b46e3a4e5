package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePass(t *testing.T) {
	m := New()

	m.ObservePass(ResultPublished, 100*time.Millisecond)
	m.ObservePass(ResultPublished, 300*time.Millisecond)
	m.ObservePass(ResultCompileFailed, 200*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.compilePasses.WithLabelValues(ResultPublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compilePasses.WithLabelValues(ResultCompileFailed)))

	snap := m.Passes().Snapshot()
	assert.Equal(t, int64(3), snap.TotalPasses)
	assert.Equal(t, int64(2), snap.Published)
	assert.Equal(t, int64(1), snap.CompileFailures)
	assert.Equal(t, 200*time.Millisecond, snap.AverageDuration)
}

func TestCounters(t *testing.T) {
	m := New()

	m.LoadFailed()
	m.TemplateFetchFailed()
	m.TemplateFetchFailed()
	m.ProxyFailed()
	m.SetGeneration(7)
	m.ReloadClients(3)
	m.ObserveRender(http.StatusOK, time.Millisecond)
	m.ObserveRender(http.StatusServiceUnavailable, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loadFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.templateFetchErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proxyErrors))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.generation))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reloadClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.renderRequests.WithLabelValues("503")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObservePass(ResultPublished, time.Second)
		m.LoadFailed()
		m.SetGeneration(1)
		m.ObserveRender(200, time.Second)
		m.TemplateFetchFailed()
		m.ProxyFailed()
		m.ReloadClients(1)
	})
	assert.Nil(t, m.Registry())
	assert.Equal(t, PassSnapshot{}, m.Passes().Snapshot())
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetGeneration(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/_ssr/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ssrdev_renderer_generation 4")
	assert.Contains(t, string(body), "go_goroutines")
}
