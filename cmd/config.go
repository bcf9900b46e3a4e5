package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/ssrdev/internal/config"
)

var (
	configFormat string
	configFile   string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect ssrdev configuration",
	Long: `Inspect the configuration ssrdev would run with.

Examples:
  ssrdev config show                        # Effective configuration as YAML
  ssrdev config show --format json          # ... as JSON
  ssrdev config validate                    # Validate .ssrdev.yml
  ssrdev config validate --file dev.yml     # Validate a specific file`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
SSRDEV_* environment variables.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file.

This command checks for:
- Valid port ranges and hostnames
- A well-formed asset server address and prefix
- A non-empty template placeholder
- Build tags and flags without shell metacharacters`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
	configValidateCmd.Flags().StringVar(&configFile, "file", "", "Configuration file to validate (default .ssrdev.yml)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	target := configFile
	if target == "" {
		if _, err := os.Stat(defaultConfigName + ".yml"); err != nil {
			return errors.New("no configuration file found. Use --file to specify a config file")
		}
		target = defaultConfigName + ".yml"
	}
	return validateConfigFile(cmd.OutOrStdout(), target)
}

func validateConfigFile(w io.Writer, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("configuration file %s does not exist", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	config.SetDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		fmt.Fprintf(w, "%s: invalid\n", path)
		return err
	}

	fmt.Fprintf(w, "%s: valid\n", path)
	fmt.Fprintf(w, "  listen:   http://%s\n", cfg.ListenAddress())
	fmt.Fprintf(w, "  bundle:   %s -> %s\n", cfg.Bundle.Package, cfg.ArtifactPath())
	fmt.Fprintf(w, "  template: %s\n", cfg.TemplateURL())
	return nil
}
