// Package metrics collects dev server metrics.
//
// Collectors live on a private Prometheus registry exposed at the metrics
// endpoint. PassMetrics keeps the running compile totals reported by the
// status endpoint. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ssrdev"

// Metrics holds the Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry
	passes   *PassMetrics

	compilePasses       *prometheus.CounterVec
	compileDuration     prometheus.Histogram
	loadFailures        prometheus.Counter
	generation          prometheus.Gauge
	renderRequests      *prometheus.CounterVec
	renderDuration      prometheus.Histogram
	templateFetchErrors prometheus.Counter
	proxyErrors         prometheus.Counter
	reloadClients       prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		passes:   &PassMetrics{},

		compilePasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compile_passes_total",
			Help:      "Compile passes by result (published, compile_failed, load_failed)",
		}, []string{"result"}),

		compileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_duration_seconds",
			Help:      "Wall time of compile passes",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		loadFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Compiled artifacts that failed to load",
		}),

		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renderer_generation",
			Help:      "Pass ID of the renderer currently serving requests",
		}),

		renderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_requests_total",
			Help:      "Render requests by response status",
		}, []string{"status"}),

		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time to fully stream a rendered page",
			Buckets:   prometheus.DefBuckets,
		}),

		templateFetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_fetch_errors_total",
			Help:      "Template fetches that failed",
		}),

		proxyErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_errors_total",
			Help:      "Asset requests the asset server did not answer",
		}),

		reloadClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reload_clients",
			Help:      "Browsers connected to the reload channel",
		}),
	}
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Passes returns the running pass totals.
func (m *Metrics) Passes() *PassMetrics {
	if m == nil {
		return nil
	}
	return m.passes
}

// ObservePass records a finished compile pass.
func (m *Metrics) ObservePass(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.compilePasses.WithLabelValues(result).Inc()
	m.compileDuration.Observe(duration.Seconds())
	m.passes.Record(result, duration)
}

// LoadFailed records an artifact that could not be loaded.
func (m *Metrics) LoadFailed() {
	if m == nil {
		return
	}
	m.loadFailures.Inc()
}

// SetGeneration records the pass ID of the published renderer.
func (m *Metrics) SetGeneration(pass uint64) {
	if m == nil {
		return
	}
	m.generation.Set(float64(pass))
}

// ObserveRender records a finished render request.
func (m *Metrics) ObserveRender(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.renderRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.renderDuration.Observe(duration.Seconds())
}

// TemplateFetchFailed records a failed template fetch.
func (m *Metrics) TemplateFetchFailed() {
	if m == nil {
		return
	}
	m.templateFetchErrors.Inc()
}

// ProxyFailed records an asset request that could not be proxied.
func (m *Metrics) ProxyFailed() {
	if m == nil {
		return
	}
	m.proxyErrors.Inc()
}

// ReloadClients records the number of connected reload clients.
func (m *Metrics) ReloadClients(n int) {
	if m == nil {
		return
	}
	m.reloadClients.Set(float64(n))
}

// PassMetrics tracks compile pass totals.
type PassMetrics struct {
	mutex sync.RWMutex
	snap  PassSnapshot
}

// PassSnapshot is a copy of the pass totals.
type PassSnapshot struct {
	TotalPasses     int64         `json:"total_passes"`
	Published       int64         `json:"published"`
	CompileFailures int64         `json:"compile_failures"`
	LoadFailures    int64         `json:"load_failures"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	TotalDuration   time.Duration `json:"total_duration_ns"`
}

// Pass results.
const (
	ResultPublished     = "published"
	ResultCompileFailed = "compile_failed"
	ResultLoadFailed    = "load_failed"
)

// Record records a pass result in the totals.
func (pm *PassMetrics) Record(result string, duration time.Duration) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	pm.snap.TotalPasses++
	pm.snap.TotalDuration += duration

	switch result {
	case ResultPublished:
		pm.snap.Published++
	case ResultCompileFailed:
		pm.snap.CompileFailures++
	case ResultLoadFailed:
		pm.snap.LoadFailures++
	}

	pm.snap.AverageDuration = pm.snap.TotalDuration / time.Duration(pm.snap.TotalPasses)
}

// Snapshot returns a copy of the current totals.
func (pm *PassMetrics) Snapshot() PassSnapshot {
	if pm == nil {
		return PassSnapshot{}
	}
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	return pm.snap
}
