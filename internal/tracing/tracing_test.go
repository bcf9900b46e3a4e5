package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/conneroisu/ssrdev/internal/config"
)

func TestNewExportsSpans(t *testing.T) {
	var out bytes.Buffer
	p, err := New(config.Default().Tracing, &out)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "ssrdev.test")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, out.String(), `"Name":"ssrdev.test"`)
	assert.Contains(t, out.String(), "service.name")
	assert.Contains(t, out.String(), "ssrdev")
}

func TestNewSampleRatio(t *testing.T) {
	tests := []struct {
		name     string
		ratio    float64
		recorded int
	}{
		{name: "always", ratio: 1, recorded: 1},
		{name: "never", ratio: 0, recorded: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Tracing
			cfg.SampleRatio = tt.ratio
			rec := tracetest.NewSpanRecorder()

			var out bytes.Buffer
			p, err := New(cfg, &out, WithSpanProcessor(rec))
			require.NoError(t, err)

			_, span := p.Tracer("test").Start(context.Background(), "ssrdev.sampled")
			span.End()
			require.NoError(t, p.Shutdown(context.Background()))

			assert.Len(t, rec.Ended(), tt.recorded)
		})
	}
}

func TestNewUnknownExporter(t *testing.T) {
	cfg := config.Default().Tracing
	cfg.Exporter = "zipkin"

	_, err := New(cfg, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInstall(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p, err := New(config.Default().Tracing, &bytes.Buffer{})
	require.NoError(t, err)
	p.Install()

	_, span := otel.Tracer("test").Start(context.Background(), "ssrdev.global")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownNil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
