// Package loader turns compiled server bundles into callable renderers.
//
// A bundle is a WASI command module (a Go program built with GOOS=wasip1).
// Every load gets its own wazero runtime so no two loaded modules share
// state, and every render instantiates a fresh module instance so concurrent
// requests never share guest memory. The request is passed CGI style through
// environment variables and stdin; the rendered page is whatever the guest
// writes to stdout.
package loader

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// ProbeEnv is set to "1" when the bundle runs its load-time probe. A bundle
// may use it to skip work that needs a real request.
const ProbeEnv = "SSR_PROBE"

// ErrModuleClosed is returned by Render once a renderer has been retired.
var ErrModuleClosed = stderrors.New("renderer has been retired")

// Renderer is the exported render function of a loaded bundle.
type Renderer interface {
	// Render starts rendering req and returns the page as a lazy stream. The
	// stream must be read to EOF or closed. A renderer failure surfaces as a
	// read error.
	Render(ctx context.Context, req *RenderRequest) (io.ReadCloser, error)
	// Retire releases the renderer once in-flight renders finish.
	Retire()
	// Identity is the synthetic name the renderer was loaded under.
	Identity() string
}

// Loader evaluates compiled bundles.
type Loader interface {
	Instantiate(ctx context.Context, contents []byte, identity string) (Renderer, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, contents []byte, identity string) (Renderer, error)

// Instantiate implements Loader.
func (f LoaderFunc) Instantiate(ctx context.Context, contents []byte, identity string) (Renderer, error) {
	return f(ctx, contents, identity)
}

// Options configures a WASMLoader.
type Options struct {
	// Probe runs the bundle once at load time; a non-zero exit fails the load.
	Probe bool
	// ProbeTimeout bounds the probe run.
	ProbeTimeout time.Duration
	// StderrLimit caps how much guest stderr is kept per run.
	StderrLimit int
}

// DefaultOptions returns the options used by NewWASMLoader when none are given.
func DefaultOptions() Options {
	return Options{
		Probe:        true,
		ProbeTimeout: 10 * time.Second,
		StderrLimit:  8 << 10,
	}
}

// WASMLoader loads bundles with wazero.
type WASMLoader struct {
	opts   Options
	logger logging.Logger
}

var _ Loader = (*WASMLoader)(nil)

// NewWASMLoader creates a loader.
func NewWASMLoader(opts Options, logger logging.Logger) *WASMLoader {
	def := DefaultOptions()
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if opts.StderrLimit <= 0 {
		opts.StderrLimit = def.StderrLimit
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &WASMLoader{opts: opts, logger: logger.WithComponent("loader")}
}

// Instantiate compiles contents into a new runtime and returns its renderer.
// Any failure is a load error and leaves nothing running.
func (l *WASMLoader) Instantiate(ctx context.Context, contents []byte, identity string) (Renderer, error) {
	perf := logging.StartOperation(l.logger.With("identity", identity), "load")

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	fail := func(msg string, cause error) (Renderer, error) {
		_ = rt.Close(context.Background())
		err := errors.NewLoadError(msg, cause).WithContext("identity", identity)
		perf.EndWithError(ctx, err)
		return nil, err
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return fail("instantiating WASI host module", err)
	}

	compiled, err := rt.CompileModule(ctx, contents)
	if err != nil {
		return fail("compiling bundle", err)
	}
	if _, ok := compiled.ExportedFunctions()["_start"]; !ok {
		return fail("bundle does not export _start", stderrors.New("not a WASI command module"))
	}

	m := &Module{
		identity: identity,
		runtime:  rt,
		compiled: compiled,
		opts:     l.opts,
		logger:   l.logger.With("identity", identity),
	}

	if l.opts.Probe {
		if err := m.probe(ctx); err != nil {
			return fail("probe run failed", err)
		}
	}

	perf.End(ctx, "size", len(contents))
	return m, nil
}

// exitStatus folds a clean proc_exit(0) into success.
func exitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
		return nil
	}
	return err
}

func withStderr(err error, stderr *tailBuffer) error {
	if err == nil || stderr.Len() == 0 {
		return err
	}
	return fmt.Errorf("%w\n%s", err, stderr.String())
}
