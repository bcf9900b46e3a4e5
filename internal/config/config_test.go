package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(newViper())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8888", cfg.Assets.Target)
	assert.Equal(t, "/public", cfg.Assets.Prefix)
	assert.Equal(t, "/public/index.html", cfg.Assets.TemplatePath)
	assert.Equal(t, "<!-- app -->", cfg.Assets.Placeholder)
	assert.Equal(t, 10*time.Second, cfg.Assets.FetchTimeout)
	assert.True(t, cfg.Bundle.Probe)
	assert.True(t, cfg.Development.HotReload)
	assert.False(t, cfg.Development.InjectClient)
	assert.Equal(t, "/dist/server-entry.wasm", cfg.ArtifactPath())
	assert.Equal(t, "http://localhost:8888/public/index.html", cfg.TemplateURL())
	assert.Equal(t, "localhost:3333", cfg.ListenAddress())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "custom asset server",
			setup: func(v *viper.Viper) {
				v.Set("assets.target", "http://127.0.0.1:9000/")
				v.Set("assets.prefix", "/static/")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/static", cfg.Assets.Prefix)
				assert.Equal(t, "http://127.0.0.1:9000/public/index.html", cfg.TemplateURL())
			},
		},
		{
			name: "durations from strings",
			setup: func(v *viper.Viper) {
				v.Set("assets.fetch_timeout", "250ms")
				v.Set("bundle.debounce", "1s")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 250*time.Millisecond, cfg.Assets.FetchTimeout)
				assert.Equal(t, time.Second, cfg.Bundle.Debounce)
			},
		},
		{
			name: "probe can be disabled",
			setup: func(v *viper.Viper) {
				v.Set("bundle.probe", false)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Bundle.Probe)
			},
		},
		{
			name: "comma separated tags",
			setup: func(v *viper.Viper) {
				v.Set("bundle.tags", []string{"dev,ssr"})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"dev", "ssr"}, cfg.Bundle.Tags)
			},
		},
		{
			name: "filename pattern",
			setup: func(v *viper.Viper) {
				v.Set("bundle.name", "app")
				v.Set("bundle.output.path", "build")
				v.Set("bundle.output.filename", "[name].bundle.wasm")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/build/app.bundle.wasm", cfg.ArtifactPath())
			},
		},
		{
			name:        "invalid port type",
			setup:       func(v *viper.Viper) { v.Set("server.port", "not-a-port") },
			expectError: true,
		},
		{
			name:        "port out of range",
			setup:       func(v *viper.Viper) { v.Set("server.port", 70000) },
			expectError: true,
		},
		{
			name:        "non http target",
			setup:       func(v *viper.Viper) { v.Set("assets.target", "ftp://localhost") },
			expectError: true,
		},
		{
			name:        "root prefix",
			setup:       func(v *viper.Viper) { v.Set("assets.prefix", "/") },
			expectError: true,
		},
		{
			name: "tracing section",
			setup: func(v *viper.Viper) {
				v.Set("tracing.enabled", true)
				v.Set("tracing.sample_ratio", 0.25)
				v.Set("tracing.output", "traces.jsonl")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Tracing.Enabled)
				assert.Equal(t, "stdout", cfg.Tracing.Exporter)
				assert.Equal(t, "ssrdev", cfg.Tracing.ServiceName)
				assert.Equal(t, 0.25, cfg.Tracing.SampleRatio)
				assert.Equal(t, "traces.jsonl", cfg.Tracing.Output)
			},
		},
		{
			name:        "unknown tracing exporter",
			setup:       func(v *viper.Viper) { v.Set("tracing.exporter", "jaeger") },
			expectError: true,
		},
		{
			name:        "sample ratio out of range",
			setup:       func(v *viper.Viper) { v.Set("tracing.sample_ratio", 1.5) },
			expectError: true,
		},
		{
			name:        "metrics under asset prefix",
			setup:       func(v *viper.Viper) { v.Set("metrics.path", "/public/metrics") },
			expectError: true,
		},
		{
			name:        "dangerous ldflags",
			setup:       func(v *viper.Viper) { v.Set("bundle.ldflags", "-s; rm -rf /") },
			expectError: true,
		},
		{
			name:        "malformed env",
			setup:       func(v *viper.Viper) { v.Set("bundle.env", []string{"NOVALUE"}) },
			expectError: true,
		},
		{
			name:        "unknown log format",
			setup:       func(v *viper.Viper) { v.Set("log.format", "xml") },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadRejectsRootPrefix(t *testing.T) {
	for _, prefix := range []string{"/", "//", ""} {
		t.Run(prefix, func(t *testing.T) {
			v := newViper()
			v.Set("assets.prefix", prefix)
			if prefix == "" {
				// An empty key falls back to the default prefix.
				_, err := LoadFrom(v)
				assert.NoError(t, err)
				return
			}

			_, err := LoadFrom(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "prefix must not be the root path")
		})
	}

	cfg := Default()
	cfg.Assets.Prefix = "/"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prefix must not be the root path")
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".ssrdev.yml")
	content := strings.Join([]string{
		"server:",
		"  port: 4000",
		"bundle:",
		"  package: ./cmd/ssr",
		"  vet: true",
		"assets:",
		"  placeholder: '<!--ssr-outlet-->'",
		"development:",
		"  inject_client: true",
	}, "\n")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	v := newViper()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "./cmd/ssr", cfg.Bundle.Package)
	assert.True(t, cfg.Bundle.Vet)
	assert.Equal(t, "<!--ssr-outlet-->", cfg.Assets.Placeholder)
	assert.True(t, cfg.Development.InjectClient)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SSRDEV_ASSETS_TARGET", "http://assets.internal:8080")
	t.Setenv("SSRDEV_SERVER_PORT", "4100")

	v := newViper()
	v.SetEnvPrefix("SSRDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "http://assets.internal:8080", cfg.Assets.Target)
	assert.Equal(t, 4100, cfg.Server.Port)
}
