package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagBinding ties a command-line flag to a configuration key.
type flagBinding struct {
	flag string
	key  string
}

// serveFlags returns the flags accepted by serve and the config keys they
// override.
func serveFlags() (*pflag.FlagSet, []flagBinding) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)

	fs.IntP("port", "p", 3333, "Port to serve on")
	fs.String("host", "localhost", "Host to bind to")
	fs.String("assets", "http://localhost:8888", "Asset server base address")
	fs.String("asset-prefix", "/public", "Path prefix proxied to the asset server")
	fs.String("template", "/public/index.html", "Template path on the asset server")
	fs.String("placeholder", "<!-- app -->", "Marker in the template replaced by rendered output")
	fs.String("bundle-dir", ".", "Go module directory containing the bundle")
	fs.String("package", "./server", "Package compiled into the bundle")
	fs.StringSlice("watch", []string{"."}, "Directories watched for changes")
	fs.StringSlice("tags", nil, "Build tags passed to go build")
	fs.Bool("vet", false, "Run go vet after each successful build")
	fs.Bool("no-reload", false, "Disable the browser reload channel")
	fs.Bool("inject-client", false, "Inject the reload client script into rendered pages")
	fs.Bool("trace", false, "Export render spans with the stdout trace exporter")
	fs.String("trace-output", "", "File spans are appended to (default stderr)")

	return fs, []flagBinding{
		{flag: "port", key: "server.port"},
		{flag: "host", key: "server.host"},
		{flag: "assets", key: "assets.target"},
		{flag: "asset-prefix", key: "assets.prefix"},
		{flag: "template", key: "assets.template_path"},
		{flag: "placeholder", key: "assets.placeholder"},
		{flag: "bundle-dir", key: "bundle.dir"},
		{flag: "package", key: "bundle.package"},
		{flag: "watch", key: "bundle.watch"},
		{flag: "tags", key: "bundle.tags"},
		{flag: "vet", key: "bundle.vet"},
		{flag: "inject-client", key: "development.inject_client"},
		{flag: "trace", key: "tracing.enabled"},
		{flag: "trace-output", key: "tracing.output"},
	}
}

// bindFlags copies explicitly set flags into v so they win over files and
// the environment. Unset flags leave the configured value alone.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, bindings []flagBinding) error {
	for _, b := range bindings {
		f := fs.Lookup(b.flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", b.flag)
		}
		if !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "stringSlice":
			vals, err := fs.GetStringSlice(b.flag)
			if err != nil {
				return err
			}
			v.Set(b.key, vals)
		default:
			v.Set(b.key, f.Value.String())
		}
	}

	// --no-reload is the inverse of development.hot_reload.
	if f := fs.Lookup("no-reload"); f != nil && f.Changed {
		off, err := fs.GetBool("no-reload")
		if err != nil {
			return err
		}
		v.Set("development.hot_reload", !off)
	}
	return nil
}
