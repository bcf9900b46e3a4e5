// Package server is the dev server's HTTP surface.
//
// Requests under the asset prefix are proxied to the asset server. Every
// other GET is rendered by the currently published bundle and spliced into
// the template fetched from the asset server. The /_ssr/ routes expose the
// reload channel, health, status and metrics.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/conneroisu/ssrdev/internal/metrics"
	"github.com/conneroisu/ssrdev/internal/proxy"
	"github.com/conneroisu/ssrdev/internal/recompile"
	"github.com/conneroisu/ssrdev/internal/template"
)

const (
	tracerName = "github.com/conneroisu/ssrdev/internal/server"

	// ReloadPath is where browsers connect for reload notifications.
	ReloadPath = "/_ssr/reload"
	HealthPath = "/_ssr/health"
	StatusPath = "/_ssr/status"
)

// Server serves rendered pages and proxied assets.
type Server struct {
	config  *config.Config
	manager *recompile.Manager
	fetcher *template.Fetcher
	proxy   *proxy.Proxy
	metrics *metrics.Metrics
	logger  logging.Logger
	tracer  trace.Tracer
	hub     *Hub

	startedAt time.Time

	serverMu   sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithTracerProvider records render spans with tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New wires a server. The reload hub is subscribed to manager when hot
// reload is enabled.
func New(
	cfg *config.Config,
	manager *recompile.Manager,
	fetcher *template.Fetcher,
	p *proxy.Proxy,
	m *metrics.Metrics,
	logger logging.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		config:    cfg,
		manager:   manager,
		fetcher:   fetcher,
		proxy:     p,
		metrics:   m,
		logger:    logger.WithComponent("server"),
		tracer:    otel.Tracer(tracerName),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(cfg, logger, m)
	if cfg.Development.HotReload {
		s.hub.Subscribe(manager)
	}
	return s
}

// Hub returns the reload hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get(HealthPath, s.handleHealth)
	r.Get(StatusPath, s.handleStatus)
	if s.config.Development.HotReload {
		r.Get(ReloadPath, s.hub.ServeHTTP)
	}
	if s.config.Metrics.Enabled && s.metrics != nil {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}

	prefix := strings.TrimSuffix(s.config.Assets.Prefix, "/")
	r.Handle(prefix, s.proxy)
	r.Handle(prefix+"/*", s.proxy)

	r.Get("/*", s.handleRender)

	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.serverMu.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddress(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.serverMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info(ctx, "Dev server listening",
		"addr", "http://"+srv.Addr,
		"assets", s.proxy.Target().String(),
	)

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info(ctx, "Shutting down dev server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug(r.Context(), "Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	writePage(w, r, http.StatusMethodNotAllowed, errorPage(
		http.StatusMethodNotAllowed,
		"Method not allowed",
		fmt.Sprintf("%s %s is not served. Rendered pages only answer GET and HEAD.", r.Method, r.URL.Path),
		"",
	))
}
