package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/ssrdev/internal/artifact"
	"github.com/conneroisu/ssrdev/internal/compiler"
	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/loader"
	"github.com/conneroisu/ssrdev/internal/metrics"
	"github.com/conneroisu/ssrdev/internal/proxy"
	"github.com/conneroisu/ssrdev/internal/recompile"
	"github.com/conneroisu/ssrdev/internal/server"
	"github.com/conneroisu/ssrdev/internal/template"
	"github.com/conneroisu/ssrdev/internal/tracing"
)

var serveBindings []flagBinding

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the dev server with live recompilation",
	Long: `Start the dev server.

The bundle package is compiled to WebAssembly on start and again after every
source change. Each successful build replaces the renderer without dropping
in-flight requests; a failed build keeps serving the previous one.

Examples:
  ssrdev serve                              # Use .ssrdev.yml and defaults
  ssrdev serve --port 4000                  # Listen on another port
  ssrdev serve --assets http://localhost:5173 --asset-prefix /static
  ssrdev serve --package ./cmd/ssr --tags dev`,
	RunE: runServe,
}

func init() {
	fs, bindings := serveFlags()
	serveCmd.Flags().AddFlagSet(fs)
	serveBindings = bindings
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := bindFlags(viper.GetViper(), cmd.Flags(), serveBindings); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	store := artifact.NewStore()

	goCompiler := compiler.NewGoCompiler(cfg, store, logger)
	wasmLoader := loader.NewWASMLoader(loader.Options{
		Probe:        cfg.Bundle.Probe,
		ProbeTimeout: loader.DefaultOptions().ProbeTimeout,
		StderrLimit:  loader.DefaultOptions().StderrLimit,
	}, logger)
	manager := recompile.NewManager(store, wasmLoader, logger, recompile.WithMetrics(m))

	assetProxy, err := proxy.New(cfg.Assets.Target, logger, m)
	if err != nil {
		return err
	}
	fetcher := template.NewFetcher(cfg.TemplateURL(), cfg.Assets.FetchTimeout,
		template.WithLogger(logger))

	var serverOpts []server.Option
	if cfg.Tracing.Enabled {
		provider, closeOutput, err := newTracing(cfg.Tracing)
		if err != nil {
			return err
		}
		defer closeOutput()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn(shutdownCtx, err, "Failed to flush traces")
			}
		}()
		provider.Install()
		serverOpts = append(serverOpts, server.WithTracerProvider(provider))
		logger.Info(ctx, "Tracing enabled",
			"exporter", cfg.Tracing.Exporter,
			"sample_ratio", cfg.Tracing.SampleRatio,
		)
	}

	srv := server.New(cfg, manager, fetcher, assetProxy, m, logger, serverOpts...)

	logger.Info(ctx, "Starting ssrdev",
		"listen", "http://"+cfg.ListenAddress(),
		"bundle", cfg.Bundle.Package,
		"artifact", goCompiler.PathKey(),
		"assets", cfg.Assets.Target,
	)

	g, gctx := errgroup.WithContext(ctx)

	passes, err := goCompiler.Watch(gctx, compiler.WatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to start compiler: %w", err)
	}
	g.Go(func() error {
		if err := manager.Run(gctx, passes); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), err, "Dev server stopped")
		return err
	}
	logger.Info(context.Background(), "Dev server stopped")
	return nil
}

// newTracing builds the tracer provider and opens its output. The returned
// func closes the output after the provider has been shut down.
func newTracing(cfg config.TracingConfig) (*tracing.Provider, func(), error) {
	var w io.Writer = os.Stderr
	closeOutput := func() {}
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace output: %w", err)
		}
		w = f
		closeOutput = func() { _ = f.Close() }
	}

	provider, err := tracing.New(cfg, w)
	if err != nil {
		closeOutput()
		return nil, nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	return provider, closeOutput, nil
}
