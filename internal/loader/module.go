package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/tetratelabs/wazero"
)

// Module is a loaded bundle. It owns a wazero runtime that is closed when the
// module is retired and no render is in flight.
type Module struct {
	identity string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	opts     Options
	logger   logging.Logger

	seq atomic.Uint64

	mu        sync.Mutex
	refs      int
	retired   bool
	closeOnce sync.Once
}

var _ Renderer = (*Module)(nil)

// Identity implements Renderer.
func (m *Module) Identity() string {
	return m.identity
}

// Render implements Renderer. Each call runs a fresh instance of the bundle.
func (m *Module) Render(ctx context.Context, req *RenderRequest) (io.ReadCloser, error) {
	if !m.acquire() {
		return nil, ErrModuleClosed
	}

	pr, pw := io.Pipe()
	stderr := newTailBuffer(m.opts.StderrLimit)

	cfg := m.instanceConfig().
		WithStdout(pw).
		WithStderr(stderr)
	for _, kv := range req.Environ() {
		cfg = cfg.WithEnv(kv[0], kv[1])
	}
	if req.Body != nil {
		cfg = cfg.WithStdin(req.Body)
	}

	go func() {
		defer m.release()

		err := withStderr(m.run(ctx, cfg), stderr)
		if err != nil {
			m.logger.Warn(ctx, err, "Render failed", "path", req.Path)
		} else if stderr.Len() > 0 {
			m.logger.Debug(ctx, "Renderer stderr", "path", req.Path, "stderr", stderr.String())
		}
		// A nil error closes the stream with io.EOF.
		pw.CloseWithError(err)
	}()

	return pr, nil
}

// Retire implements Renderer.
func (m *Module) Retire() {
	m.mu.Lock()
	if m.retired {
		m.mu.Unlock()
		return
	}
	m.retired = true
	idle := m.refs == 0
	m.mu.Unlock()

	if idle {
		m.close()
	}
}

// InFlight reports how many renders are running.
func (m *Module) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

func (m *Module) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		return false
	}
	m.refs++
	return true
}

func (m *Module) release() {
	m.mu.Lock()
	m.refs--
	idle := m.retired && m.refs == 0
	m.mu.Unlock()

	if idle {
		m.close()
	}
}

func (m *Module) close() {
	m.closeOnce.Do(func() {
		if err := m.runtime.Close(context.Background()); err != nil {
			m.logger.Warn(context.Background(), err, "Closing runtime failed")
		}
		m.logger.Debug(context.Background(), "Renderer retired")
	})
}

func (m *Module) instanceConfig() wazero.ModuleConfig {
	name := fmt.Sprintf("%s#%d", m.identity, m.seq.Add(1))
	return wazero.NewModuleConfig().
		WithName(name).
		WithArgs(m.identity).
		WithStartFunctions("_start")
}

func (m *Module) run(ctx context.Context, cfg wazero.ModuleConfig) error {
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	return exitStatus(err)
}

func (m *Module) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	stderr := newTailBuffer(m.opts.StderrLimit)
	cfg := m.instanceConfig().
		WithEnv(ProbeEnv, "1").
		WithEnv("REQUEST_METHOD", "GET").
		WithEnv("PATH_INFO", "/").
		WithEnv("REQUEST_URI", "/").
		WithStdout(io.Discard).
		WithStderr(stderr)

	return withStderr(m.run(ctx, cfg), stderr)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if len(p) > t.limit {
		p = p[len(p)-t.limit:]
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
