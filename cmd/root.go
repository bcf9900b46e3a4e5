// Package cmd provides the ssrdev command-line interface.
//
// Configuration System:
//
//	Configuration is read from several sources with clear precedence:
//	1. Command-line flags (--config, --port, etc.) - highest priority
//	2. SSRDEV_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (SSRDEV_SERVER_PORT, etc.)
//	4. Configuration files (.ssrdev.yml) - lowest priority
//
// Environment Variables:
//
//	SSRDEV_CONFIG_FILE: Path to custom configuration file
//	SSRDEV_SERVER_PORT: Override server port
//	SSRDEV_ASSETS_TARGET: Override the asset server address
//	And every other key following the SSRDEV_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/logging"
)

const (
	envPrefix         = "SSRDEV"
	envConfigFile     = "SSRDEV_CONFIG_FILE"
	defaultConfigName = ".ssrdev"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ssrdev",
	Short: "Live-recompiling server-side rendering dev server",
	Long: `ssrdev compiles a Go server-render bundle to WebAssembly, reloads it on
every source change and serves rendered pages spliced into the HTML template
of a companion asset server. Asset requests are proxied to that server.

Quick Start:
  ssrdev serve                     Start the dev server
  ssrdev config show               Print the effective configuration
  ssrdev config validate           Check a configuration file
  ssrdev version                   Show build information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .ssrdev.yml, can also use SSRDEV_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and environment.
//
// The file is chosen in this order: --config, SSRDEV_CONFIG_FILE, then
// .ssrdev.yml in the working directory. A missing default file is not an
// error.
func initConfig() {
	configureViper(viper.GetViper(), cfgFile, os.Getenv(envConfigFile))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" || os.Getenv(envConfigFile) != "" {
		fmt.Fprintln(os.Stderr, "Failed to read config file:", err)
	}
}

func configureViper(v *viper.Viper, flagFile, envFile string) {
	switch {
	case flagFile != "":
		v.SetConfigFile(flagFile)
	case envFile != "":
		v.SetConfigFile(envFile)
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	config.SetDefaults(v)
}

// newLogger builds the process logger from the loaded configuration.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}), nil
}
