// Package recompile owns the renderer that is currently serving requests.
//
// The Manager consumes compile passes, loads each emitted artifact and
// publishes the result with a single atomic pointer swap. Readers always see
// either the previous or the new handle, never a partially built one. A pass
// that fails to compile or load leaves the current handle in place.
package recompile

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/ssrdev/internal/artifact"
	"github.com/conneroisu/ssrdev/internal/compiler"
	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/loader"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/conneroisu/ssrdev/internal/metrics"
)

// Handle is a published renderer. Handles are never mutated after Publish.
type Handle struct {
	Renderer    loader.Renderer
	Pass        uint64
	Identity    string
	PublishedAt time.Time
}

// PassStatus summarizes the most recent pass for the status endpoint.
type PassStatus struct {
	ID         uint64                `json:"id"`
	Result     string                `json:"result"`
	Errors     []*errors.ParsedError `json:"errors,omitempty"`
	Warnings   []*errors.ParsedError `json:"warnings,omitempty"`
	Error      string                `json:"error,omitempty"`
	Changed    []string              `json:"changed,omitempty"`
	Duration   time.Duration         `json:"duration_ns"`
	FinishedAt time.Time             `json:"finished_at"`
	Totals     metrics.PassSnapshot  `json:"totals"`
}

// PublishFunc is notified after a handle is published.
type PublishFunc func(h *Handle, pass compiler.Pass)

// FailureFunc is notified when a pass leaves the current handle in place.
type FailureFunc func(pass compiler.Pass, err error)

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records pass results in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// Manager is the single writer of the current handle.
type Manager struct {
	current atomic.Pointer[Handle]
	last    atomic.Pointer[PassStatus]

	ready     chan struct{}
	readyOnce sync.Once

	store   *artifact.Store
	loader  loader.Loader
	logger  logging.Logger
	metrics *metrics.Metrics

	subMu     sync.RWMutex
	onPublish []PublishFunc
	onFailure []FailureFunc
}

// NewManager creates a manager that reads artifacts from store and evaluates
// them with l.
func NewManager(store *artifact.Store, l loader.Loader, logger logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		ready:  make(chan struct{}),
		store:  store,
		loader: l,
		logger: logger.WithComponent("recompile"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the published handle, or nil before the first publish.
func (m *Manager) Current() *Handle {
	return m.current.Load()
}

// Ready is closed once the first handle is published.
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// LastPass returns the status of the most recent pass, or nil before any.
func (m *Manager) LastPass() *PassStatus {
	return m.last.Load()
}

// Publish makes h current and returns the handle it replaced.
func (m *Manager) Publish(h *Handle) *Handle {
	prev := m.current.Swap(h)
	m.readyOnce.Do(func() { close(m.ready) })
	m.metrics.SetGeneration(h.Pass)
	return prev
}

// OnPublish registers fn to run after every publish.
func (m *Manager) OnPublish(fn PublishFunc) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onPublish = append(m.onPublish, fn)
}

// OnFailure registers fn to run after every pass that did not publish.
func (m *Manager) OnFailure(fn FailureFunc) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.onFailure = append(m.onFailure, fn)
}

// Run consumes passes until the channel closes or ctx ends. A failing pass is
// reported and skipped; Run itself only returns on shutdown.
func (m *Manager) Run(ctx context.Context, passes <-chan compiler.Pass) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pass, ok := <-passes:
			if !ok {
				return nil
			}
			_, _ = m.HandlePass(ctx, pass)
		}
	}
}

// HandlePass processes a single pass. On success it returns the new handle;
// otherwise it returns the compile or load error and the current handle is
// unchanged.
func (m *Manager) HandlePass(ctx context.Context, pass compiler.Pass) (*Handle, error) {
	logger := m.logger.With("pass", pass.ID)
	m.report(ctx, logger, pass)

	if pass.Kind != compiler.PassSuccess || !pass.Stats.Emitted {
		var cause error
		if len(pass.Stats.Errors) > 0 {
			cause = pass.Stats.Errors[0]
		}
		err := errors.NewCompileError("pass emitted no artifact", cause).WithPass(pass.ID)
		m.fail(ctx, logger, pass, err, metrics.ResultCompileFailed)
		return nil, err
	}

	art, err := m.artifact(pass)
	if err != nil {
		loadErr := errors.NewLoadError("reading artifact", err).WithPass(pass.ID)
		m.fail(ctx, logger, pass, loadErr, metrics.ResultLoadFailed)
		return nil, loadErr
	}

	identity := fmt.Sprintf("%s@%d", art.PathKey, pass.ID)
	renderer, err := m.loader.Instantiate(ctx, art.Contents, identity)
	if err != nil {
		var loadErr *errors.DevError
		if !stderrors.As(err, &loadErr) || loadErr.Type != errors.ErrorTypeLoad {
			loadErr = errors.NewLoadError("loading artifact", err)
		}
		loadErr.WithPass(pass.ID)
		m.fail(ctx, logger, pass, loadErr, metrics.ResultLoadFailed)
		return nil, loadErr
	}

	h := &Handle{
		Renderer:    renderer,
		Pass:        pass.ID,
		Identity:    identity,
		PublishedAt: time.Now(),
	}
	if prev := m.Publish(h); prev != nil {
		prev.Renderer.Retire()
	}

	m.record(pass, metrics.ResultPublished, nil)
	logger.Info(ctx, "Renderer published",
		"identity", identity,
		"size", art.Size(),
		"duration_ms", pass.Stats.Duration.Milliseconds(),
	)

	m.subMu.RLock()
	subs := m.onPublish
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(h, pass)
	}

	return h, nil
}

// artifact returns the bytes pass produced. Passes that carry no snapshot are
// read from the store under their path key.
func (m *Manager) artifact(pass compiler.Pass) (*artifact.Artifact, error) {
	if pass.Artifact != nil {
		return pass.Artifact, nil
	}
	return m.store.Load(pass.PathKey)
}

// report logs every diagnostic in the pass.
func (m *Manager) report(ctx context.Context, logger logging.Logger, pass compiler.Pass) {
	for _, diag := range pass.Stats.Errors {
		logger.Error(ctx, diag, "Compile error", "file", diag.File, "line", diag.Line)
	}
	for _, diag := range pass.Stats.Warnings {
		logger.Warn(ctx, diag, "Compile warning", "file", diag.File, "line", diag.Line)
	}
}

func (m *Manager) fail(ctx context.Context, logger logging.Logger, pass compiler.Pass, err error, result string) {
	if result == metrics.ResultLoadFailed {
		m.metrics.LoadFailed()
	}
	m.record(pass, result, err)

	fields := []interface{}{"result", result}
	if cur := m.Current(); cur != nil {
		fields = append(fields, "serving_pass", cur.Pass)
	}
	logger.Error(ctx, err, "Pass not published, keeping current renderer", fields...)

	m.subMu.RLock()
	subs := m.onFailure
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(pass, err)
	}
}

func (m *Manager) record(pass compiler.Pass, result string, err error) {
	m.metrics.ObservePass(result, pass.Stats.Duration)

	status := &PassStatus{
		ID:         pass.ID,
		Result:     result,
		Errors:     pass.Stats.Errors,
		Warnings:   pass.Stats.Warnings,
		Changed:    pass.Stats.Changed,
		Duration:   pass.Stats.Duration,
		FinishedAt: time.Now(),
		Totals:     m.metrics.Passes().Snapshot(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	m.last.Store(status)
}
