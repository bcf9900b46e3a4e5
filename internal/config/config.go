// Package config provides configuration management for ssrdev using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration describes where the server bundle lives and how to
// compile it, where the companion asset server listens, and how the dev
// server itself is exposed. Environment overrides use the SSRDEV_ prefix,
// e.g. SSRDEV_ASSETS_TARGET=http://localhost:9000.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/ssrdev/internal/artifact"
	"github.com/conneroisu/ssrdev/internal/validation"
	"github.com/spf13/viper"
)

// NamePlaceholder is replaced by the bundle name in output filename patterns.
const NamePlaceholder = artifact.NamePlaceholder

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Bundle      BundleConfig      `mapstructure:"bundle" yaml:"bundle"`
	Assets      AssetsConfig      `mapstructure:"assets" yaml:"assets"`
	Render      RenderConfig      `mapstructure:"render" yaml:"render"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// BundleConfig describes the server bundle and how each pass compiles it.
type BundleConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Package  string        `mapstructure:"package" yaml:"package"`
	Name     string        `mapstructure:"name" yaml:"name"`
	Output   OutputConfig  `mapstructure:"output" yaml:"output"`
	Watch    []string      `mapstructure:"watch" yaml:"watch"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Tags     []string      `mapstructure:"tags" yaml:"tags"`
	LDFlags  string        `mapstructure:"ldflags" yaml:"ldflags"`
	Env      []string      `mapstructure:"env" yaml:"env"`
	Vet      bool          `mapstructure:"vet" yaml:"vet"`
	Probe    bool          `mapstructure:"probe" yaml:"probe"`
}

// OutputConfig locates the artifact inside the in-memory store.
type OutputConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Filename string `mapstructure:"filename" yaml:"filename"`
}

// AssetsConfig points at the companion asset server.
type AssetsConfig struct {
	Target       string        `mapstructure:"target" yaml:"target"`
	Prefix       string        `mapstructure:"prefix" yaml:"prefix"`
	TemplatePath string        `mapstructure:"template_path" yaml:"template_path"`
	Placeholder  string        `mapstructure:"placeholder" yaml:"placeholder"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

type RenderConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type DevelopmentConfig struct {
	HotReload    bool `mapstructure:"hot_reload" yaml:"hot_reload"`
	InjectClient bool `mapstructure:"inject_client" yaml:"inject_client"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig controls the OpenTelemetry tracer provider. Spans are
// written by the stdout exporter to Output, or stderr when Output is empty.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string  `mapstructure:"exporter" yaml:"exporter"`
	Output      string  `mapstructure:"output" yaml:"output"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	PrettyPrint bool    `mapstructure:"pretty_print" yaml:"pretty_print"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3333,
			ShutdownTimeout: 5 * time.Second,
		},
		Bundle: BundleConfig{
			Dir:      ".",
			Package:  "./server",
			Name:     "server-entry",
			Output:   OutputConfig{Path: "/dist", Filename: NamePlaceholder + ".wasm"},
			Watch:    []string{"."},
			Ignore:   []string{"node_modules", ".git", "dist", "vendor"},
			Debounce: 100 * time.Millisecond,
			Probe:    true,
		},
		Assets: AssetsConfig{
			Target:       "http://localhost:8888",
			Prefix:       "/public",
			TemplatePath: "/public/index.html",
			Placeholder:  "<!-- app -->",
			FetchTimeout: 10 * time.Second,
		},
		Render: RenderConfig{
			Timeout: 30 * time.Second,
		},
		Development: DevelopmentConfig{
			HotReload: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/_ssr/metrics",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "ssrdev",
			SampleRatio: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// SetDefaults registers every key with v so AutomaticEnv can resolve
// SSRDEV_* variables for keys no config file mentions.
func SetDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)
	v.SetDefault("bundle.dir", def.Bundle.Dir)
	v.SetDefault("bundle.package", def.Bundle.Package)
	v.SetDefault("bundle.name", def.Bundle.Name)
	v.SetDefault("bundle.output.path", def.Bundle.Output.Path)
	v.SetDefault("bundle.output.filename", def.Bundle.Output.Filename)
	v.SetDefault("bundle.watch", def.Bundle.Watch)
	v.SetDefault("bundle.ignore", def.Bundle.Ignore)
	v.SetDefault("bundle.debounce", def.Bundle.Debounce)
	v.SetDefault("bundle.tags", []string{})
	v.SetDefault("bundle.ldflags", "")
	v.SetDefault("bundle.env", []string{})
	v.SetDefault("bundle.vet", def.Bundle.Vet)
	v.SetDefault("bundle.probe", def.Bundle.Probe)
	v.SetDefault("assets.target", def.Assets.Target)
	v.SetDefault("assets.prefix", def.Assets.Prefix)
	v.SetDefault("assets.template_path", def.Assets.TemplatePath)
	v.SetDefault("assets.placeholder", def.Assets.Placeholder)
	v.SetDefault("assets.fetch_timeout", def.Assets.FetchTimeout)
	v.SetDefault("render.timeout", def.Render.Timeout)
	v.SetDefault("development.hot_reload", def.Development.HotReload)
	v.SetDefault("development.inject_client", def.Development.InjectClient)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.path", def.Metrics.Path)
	v.SetDefault("tracing.enabled", def.Tracing.Enabled)
	v.SetDefault("tracing.exporter", def.Tracing.Exporter)
	v.SetDefault("tracing.output", def.Tracing.Output)
	v.SetDefault("tracing.service_name", def.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", def.Tracing.SampleRatio)
	v.SetDefault("tracing.pretty_print", def.Tracing.PrettyPrint)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}

// LoadFrom reads the configuration from v, applies defaults for anything left
// unset and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	def := Default()

	// Zero values coming from an explicitly empty key fall back to defaults.
	if config.Server.Host == "" {
		config.Server.Host = def.Server.Host
	}
	if config.Server.ShutdownTimeout <= 0 {
		config.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if config.Bundle.Dir == "" {
		config.Bundle.Dir = def.Bundle.Dir
	}
	if config.Bundle.Package == "" {
		config.Bundle.Package = def.Bundle.Package
	}
	if config.Bundle.Name == "" {
		config.Bundle.Name = def.Bundle.Name
	}
	if config.Bundle.Output.Path == "" {
		config.Bundle.Output.Path = def.Bundle.Output.Path
	}
	if config.Bundle.Output.Filename == "" {
		config.Bundle.Output.Filename = def.Bundle.Output.Filename
	}
	if len(config.Bundle.Watch) == 0 {
		config.Bundle.Watch = def.Bundle.Watch
	}
	if config.Bundle.Debounce <= 0 {
		config.Bundle.Debounce = def.Bundle.Debounce
	}
	if config.Assets.Target == "" {
		config.Assets.Target = def.Assets.Target
	}
	if config.Assets.Prefix == "" {
		config.Assets.Prefix = def.Assets.Prefix
	}
	if config.Assets.TemplatePath == "" {
		config.Assets.TemplatePath = def.Assets.TemplatePath
	}
	if config.Assets.Placeholder == "" {
		config.Assets.Placeholder = def.Assets.Placeholder
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = def.Metrics.Path
	}
	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = def.Tracing.Exporter
	}
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = def.Tracing.ServiceName
	}
	if config.Log.Level == "" {
		config.Log.Level = def.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = def.Log.Format
	}

	// Comma separated env values arrive as a single element.
	if v.IsSet("bundle.watch") {
		config.Bundle.Watch = splitList(v.GetStringSlice("bundle.watch"))
	}
	if v.IsSet("bundle.tags") {
		config.Bundle.Tags = splitList(v.GetStringSlice("bundle.tags"))
	}

	config.Assets.Prefix = strings.TrimRight(config.Assets.Prefix, "/")

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ListenAddress returns host:port for the dev server listener.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ArtifactPath resolves the key under which each pass stores its artifact.
func (c *Config) ArtifactPath() string {
	return artifact.ResolvePath(c.Bundle.Output.Path, c.Bundle.Output.Filename, c.Bundle.Name)
}

// TemplateURL is the absolute URL the template is fetched from.
func (c *Config) TemplateURL() string {
	return strings.TrimRight(c.Assets.Target, "/") + c.Assets.TemplatePath
}

// Validate validates configuration values for security and correctness
func Validate(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateBundleConfig(&config.Bundle); err != nil {
		return fmt.Errorf("bundle config: %w", err)
	}
	if err := validateAssetsConfig(&config.Assets); err != nil {
		return fmt.Errorf("assets config: %w", err)
	}
	if config.Render.Timeout < 0 {
		return fmt.Errorf("render config: timeout must not be negative")
	}
	if err := validation.ValidateURLPath(config.Metrics.Path); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if strings.HasPrefix(config.Metrics.Path, config.Assets.Prefix+"/") {
		return fmt.Errorf("metrics config: path %s is shadowed by asset prefix %s", config.Metrics.Path, config.Assets.Prefix)
	}
	if err := validateTracingConfig(&config.Tracing); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log config: unknown format %q", config.Log.Format)
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// 0 lets the OS pick a port, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}
	if strings.ContainsAny(config.Host, ";&|$`()<>\"'\\ ") {
		return fmt.Errorf("host contains dangerous character: %s", config.Host)
	}
	return nil
}

func validateBundleConfig(config *BundleConfig) error {
	if strings.ContainsAny(config.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", config.Name)
	}
	if !strings.Contains(config.Output.Filename, ".") {
		return fmt.Errorf("output filename %q needs an extension", config.Output.Filename)
	}
	if strings.Contains(filepath.ToSlash(config.Output.Path), "..") {
		return fmt.Errorf("output path contains traversal: %s", config.Output.Path)
	}
	for _, tag := range config.Tags {
		if err := validation.ValidateArgument(tag); err != nil {
			return fmt.Errorf("tag %q: %w", tag, err)
		}
	}
	if err := validation.ValidateArgument(config.LDFlags); err != nil {
		return fmt.Errorf("ldflags: %w", err)
	}
	for _, kv := range config.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
	}
	return nil
}

func validateAssetsConfig(config *AssetsConfig) error {
	if _, err := validation.ValidateTargetURL(config.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	// Prefix arrives with trailing slashes trimmed, so "/" shows up empty.
	if strings.Trim(config.Prefix, "/") == "" {
		return fmt.Errorf("prefix must not be the root path")
	}
	if err := validation.ValidateURLPath(config.Prefix); err != nil {
		return fmt.Errorf("prefix: %w", err)
	}
	if err := validation.ValidateURLPath(config.TemplatePath); err != nil {
		return fmt.Errorf("template_path: %w", err)
	}
	if config.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}
	return nil
}

func validateTracingConfig(config *TracingConfig) error {
	switch config.Exporter {
	case "stdout":
	default:
		return fmt.Errorf("unknown exporter %q", config.Exporter)
	}
	if config.SampleRatio < 0 || config.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio %v must be between 0 and 1", config.SampleRatio)
	}
	if strings.Contains(filepath.ToSlash(config.Output), "..") {
		return fmt.Errorf("output contains traversal: %s", config.Output)
	}
	return nil
}
