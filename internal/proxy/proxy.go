// Package proxy forwards static asset requests to the asset server.
package proxy

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/conneroisu/ssrdev/internal/metrics"
	"github.com/conneroisu/ssrdev/internal/validation"
)

// Proxy forwards requests to the asset server unchanged and streams the
// response back. There is no retry: a failed upstream request becomes a 502.
type Proxy struct {
	target  *url.URL
	rp      *httputil.ReverseProxy
	logger  logging.Logger
	metrics *metrics.Metrics
}

// New creates a proxy for the asset server at target.
func New(target string, logger logging.Logger, m *metrics.Metrics) (*Proxy, error) {
	targetURL, err := validation.ValidateTargetURL(target)
	if err != nil {
		return nil, errors.NewConfigError(errors.CodeInvalidConfig, "invalid asset target", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	p := &Proxy{
		target:  targetURL,
		logger:  logger.WithComponent("proxy"),
		metrics: m,
	}

	rp := httputil.NewSingleHostReverseProxy(targetURL)
	// Flush immediately so event streams from the asset server are not held.
	rp.FlushInterval = -1
	rp.ErrorHandler = p.handleError
	p.rp = rp

	return p, nil
}

// Target returns the asset server base address.
func (p *Proxy) Target() *url.URL {
	return p.target
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	// The browser went away; nothing to report.
	if stderrors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return
	}

	proxyErr := errors.NewProxyError("asset server unreachable", err).
		WithPath(r.URL.Path).
		WithContext("target", p.target.String())
	p.metrics.ProxyFailed()
	p.logger.Error(r.Context(), proxyErr, "Proxy request failed",
		"method", r.Method,
		"path", r.URL.Path,
	)

	http.Error(w, "502 bad gateway: asset server unreachable", http.StatusBadGateway)
}
