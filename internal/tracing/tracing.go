// Package tracing installs the OpenTelemetry tracer provider the server's
// render and template fetch spans are recorded with.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/version"
)

// Provider owns an SDK tracer provider and the exporter behind it.
type Provider struct {
	*sdktrace.TracerProvider
}

// Option adds a span processor next to the exporter.
type Option func(*[]sdktrace.TracerProviderOption)

// WithSpanProcessor registers sp alongside the exporter.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(opts *[]sdktrace.TracerProviderOption) {
		*opts = append(*opts, sdktrace.WithSpanProcessor(sp))
	}
}

// New builds a provider that exports spans to w in the format named by
// cfg.Exporter.
func New(cfg config.TracingConfig, w io.Writer, opts ...Option) (*Provider, error) {
	exporter, err := newExporter(cfg, w)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	for _, opt := range opts {
		opt(&tpOpts)
	}
	return &Provider{TracerProvider: sdktrace.NewTracerProvider(tpOpts...)}, nil
}

func newExporter(cfg config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		exOpts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if cfg.PrettyPrint {
			exOpts = append(exOpts, stdouttrace.WithPrettyPrint())
		}
		exporter, err := stdouttrace.New(exOpts...)
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// Install makes p the global provider.
func (p *Provider) Install() {
	otel.SetTracerProvider(p.TracerProvider)
}

// Shutdown flushes buffered spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer provider shutdown: %w", err)
	}
	return nil
}
