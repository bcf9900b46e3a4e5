// Package compiler runs the watch-compile loop for the server bundle.
//
// Each pass compiles the bundle to WebAssembly (GOOS=wasip1 GOARCH=wasm) into a
// private scratch file, moves the bytes into the artifact store and yields a
// Pass describing what happened. Passes are strictly serialized. A successful
// Pass carries the artifact it read back from the store, so a later pass
// overwriting the same key never changes what an earlier Pass loads.
package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/ssrdev/internal/artifact"
	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/logging"
	"github.com/conneroisu/ssrdev/internal/validation"
	"github.com/conneroisu/ssrdev/internal/watcher"
)

// PassKind discriminates the result of a compile pass.
type PassKind int

const (
	// PassSuccess means an artifact was emitted and written to the store.
	PassSuccess PassKind = iota
	// PassFailure means nothing loadable was produced.
	PassFailure
)

func (k PassKind) String() string {
	switch k {
	case PassSuccess:
		return "success"
	case PassFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Stats describes one compile pass.
type Stats struct {
	Errors    []*errors.ParsedError
	Warnings  []*errors.ParsedError
	Emitted   bool
	Size      int
	StartedAt time.Time
	Duration  time.Duration
	// Changed lists the source files that triggered the pass. Empty for the
	// initial pass.
	Changed []string
}

// HasErrors reports whether the pass produced error diagnostics.
func (s Stats) HasErrors() bool {
	return len(s.Errors) > 0
}

// Pass is the result of one compile pass.
type Pass struct {
	ID      uint64
	Kind    PassKind
	PathKey string
	// Artifact is the store contents under PathKey as of the end of this
	// pass. Nil unless Kind is PassSuccess.
	Artifact *artifact.Artifact
	Stats    Stats
}

// WatchOptions tunes Watch. The zero value is the default behavior.
type WatchOptions struct {
	// SkipInitial suppresses the pass normally run before any change is seen.
	SkipInitial bool
}

// Compiler produces a stream of compile passes. The returned channel has a
// single consumer and is closed once ctx is done.
type Compiler interface {
	Watch(ctx context.Context, opts WatchOptions) (<-chan Pass, error)
}

// CommandRunner executes a build tool and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	return cmd.CombinedOutput()
}

var allowedCommands = map[string]bool{
	"go": true,
}

// Option configures a GoCompiler.
type Option func(*GoCompiler)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(c *GoCompiler) {
		c.runner = r
	}
}

// GoCompiler compiles a Go package to a wasip1 module.
type GoCompiler struct {
	bundle  config.BundleConfig
	pathKey string
	store   *artifact.Store
	runner  CommandRunner
	parser  *errors.ErrorParser
	logger  logging.Logger

	nextID atomic.Uint64
	passMu sync.Mutex
}

var _ Compiler = (*GoCompiler)(nil)

// NewGoCompiler creates a compiler for cfg.Bundle that writes each artifact to
// store under cfg.ArtifactPath().
func NewGoCompiler(cfg *config.Config, store *artifact.Store, logger logging.Logger, opts ...Option) *GoCompiler {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &GoCompiler{
		bundle:  cfg.Bundle,
		pathKey: cfg.ArtifactPath(),
		store:   store,
		runner:  ExecRunner{},
		parser:  errors.NewErrorParser(),
		logger:  logger.WithComponent("compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PathKey returns the store key artifacts are written under.
func (c *GoCompiler) PathKey() string {
	return c.pathKey
}

// Watch starts watching the bundle sources. An initial pass is run right away
// unless opts.SkipInitial is set; after that one pass runs per debounced batch
// of changes.
func (c *GoCompiler) Watch(ctx context.Context, opts WatchOptions) (<-chan Pass, error) {
	fw, err := watcher.NewFileWatcher(c.bundle.Debounce, c.logger, c.bundle.Ignore...)
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	fw.AddFilter(watcher.SourceFilter)
	fw.AddFilter(watcher.NoTestFilter)
	fw.AddFilter(watcher.NoVendorFilter)
	fw.AddFilter(watcher.NoGitFilter)

	for _, dir := range c.watchDirs() {
		// Entries may name single files, such as a go.mod outside Dir.
		if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
			if err := fw.AddPath(dir); err != nil {
				_ = fw.Stop()
				return nil, fmt.Errorf("watching %s: %w", dir, err)
			}
			continue
		}
		if err := fw.AddRecursive(dir); err != nil {
			_ = fw.Stop()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	// A pass already queued picks up every change recorded before it starts.
	var (
		pendingMu sync.Mutex
		pending   []string
	)
	trigger := make(chan struct{}, 1)
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		pendingMu.Lock()
		for _, ev := range events {
			pending = append(pending, ev.Path)
		}
		pendingMu.Unlock()

		select {
		case trigger <- struct{}{}:
		default:
		}
		return nil
	})

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}

	passes := make(chan Pass)
	go func() {
		defer close(passes)
		defer fw.Stop()

		emit := func(changed []string) bool {
			pass := c.Compile(ctx, changed)
			if ctx.Err() != nil {
				return false
			}
			select {
			case passes <- pass:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !opts.SkipInitial && !emit(nil) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				pendingMu.Lock()
				changed := dedupe(pending)
				pending = nil
				pendingMu.Unlock()

				if !emit(changed) {
					return
				}
			}
		}
	}()

	c.logger.Info(ctx, "Watching bundle sources", "package", c.bundle.Package, "dirs", c.watchDirs())
	return passes, nil
}

func (c *GoCompiler) watchDirs() []string {
	dirs := make([]string, 0, len(c.bundle.Watch))
	for _, w := range c.bundle.Watch {
		if filepath.IsAbs(w) {
			dirs = append(dirs, filepath.Clean(w))
			continue
		}
		dirs = append(dirs, filepath.Join(c.bundle.Dir, w))
	}
	return dirs
}

// Compile runs a single pass. It never returns an error: failures are carried
// in the returned Pass.
func (c *GoCompiler) Compile(ctx context.Context, changed []string) (pass Pass) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	pass = Pass{
		ID:      c.nextID.Add(1),
		Kind:    PassFailure,
		PathKey: c.pathKey,
		Stats: Stats{
			StartedAt: time.Now(),
			Changed:   changed,
		},
	}
	perf := logging.StartOperation(c.logger.With("pass", pass.ID), "compile")
	defer func() {
		pass.Stats.Duration = time.Since(pass.Stats.StartedAt)
		perf.End(ctx, "result", pass.Kind.String(), "errors", len(pass.Stats.Errors), "warnings", len(pass.Stats.Warnings))
	}()

	scratchDir, err := os.MkdirTemp("", "ssrdev-pass-*")
	if err != nil {
		pass.Stats.Errors = append(pass.Stats.Errors, toolError("creating scratch directory", err))
		return pass
	}
	defer os.RemoveAll(scratchDir)
	scratch := filepath.Join(scratchDir, "bundle.wasm")

	args := c.buildArgs(scratch)
	if err := validateCommand("go", args); err != nil {
		pass.Stats.Errors = append(pass.Stats.Errors, toolError("command validation failed", err))
		return pass
	}

	env := c.buildEnv()
	output, runErr := c.runner.Run(ctx, c.bundle.Dir, env, "go", args...)
	if runErr != nil {
		if ctx.Err() != nil {
			pass.Stats.Errors = append(pass.Stats.Errors, toolError("compile interrupted", ctx.Err()))
			return pass
		}
		diags := c.parser.ParseError(string(output), errors.ErrorSeverityError)
		if len(diags) == 0 {
			diags = append(diags, toolError(strings.TrimSpace(string(output)), runErr))
		}
		pass.Stats.Errors = append(pass.Stats.Errors, diags...)
	}

	// Whatever was emitted is published, even alongside reported errors.
	contents, readErr := os.ReadFile(scratch)
	if readErr != nil || len(contents) == 0 {
		return pass
	}

	if err := c.store.Write(c.pathKey, contents); err != nil {
		pass.Stats.Errors = append(pass.Stats.Errors, toolError("writing artifact", err))
		return pass
	}
	art, err := c.store.Load(c.pathKey)
	if err != nil {
		pass.Stats.Errors = append(pass.Stats.Errors, toolError("reading artifact", err))
		return pass
	}
	pass.Artifact = art
	pass.Stats.Emitted = true
	pass.Stats.Size = art.Size()
	pass.Kind = PassSuccess

	if c.bundle.Vet && runErr == nil {
		pass.Stats.Warnings = append(pass.Stats.Warnings, c.vet(ctx, env)...)
	}

	return pass
}

func (c *GoCompiler) buildArgs(output string) []string {
	args := []string{"build", "-o", output}
	if len(c.bundle.Tags) > 0 {
		args = append(args, "-tags", strings.Join(c.bundle.Tags, ","))
	}
	if c.bundle.LDFlags != "" {
		args = append(args, "-ldflags", c.bundle.LDFlags)
	}
	return append(args, c.bundle.Package)
}

func (c *GoCompiler) buildEnv() []string {
	env := os.Environ()
	env = append(env, "GOOS=wasip1", "GOARCH=wasm")
	return append(env, c.bundle.Env...)
}

// vet runs go vet and reports its findings as warnings.
func (c *GoCompiler) vet(ctx context.Context, env []string) []*errors.ParsedError {
	args := []string{"vet"}
	if len(c.bundle.Tags) > 0 {
		args = append(args, "-tags", strings.Join(c.bundle.Tags, ","))
	}
	args = append(args, c.bundle.Package)
	if err := validateCommand("go", args); err != nil {
		return []*errors.ParsedError{toolWarning("vet validation failed", err)}
	}

	output, err := c.runner.Run(ctx, c.bundle.Dir, env, "go", args...)
	if err == nil {
		return nil
	}

	warnings := c.parser.ParseError(string(output), errors.ErrorSeverityWarning)
	for _, w := range warnings {
		if w.Type == errors.BuildErrorTypeGoCompile {
			w.Type = errors.BuildErrorTypeVet
		}
	}
	if len(warnings) == 0 {
		warnings = append(warnings, toolWarning(strings.TrimSpace(string(output)), err))
	}
	return warnings
}

func validateCommand(name string, args []string) error {
	if err := validation.ValidateCommand(name, allowedCommands); err != nil {
		return err
	}
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}
	return nil
}

func toolError(msg string, err error) *errors.ParsedError {
	return toolDiagnostic(errors.ErrorSeverityError, msg, err)
}

func toolWarning(msg string, err error) *errors.ParsedError {
	return toolDiagnostic(errors.ErrorSeverityWarning, msg, err)
}

func toolDiagnostic(severity errors.ErrorSeverity, msg string, err error) *errors.ParsedError {
	if msg == "" {
		msg = err.Error()
	}
	return &errors.ParsedError{
		Type:     errors.BuildErrorTypeGoTool,
		Severity: severity,
		Message:  msg,
		RawError: err.Error(),
	}
}

func dedupe(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
