package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
)

var configShowFlags *StandardFlags

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets masked",
	Long: `Print the configuration after merging the config file, the .env file,
environment variables and defaults. The secret key is masked.

Examples:
  recaptcha config show           # YAML
  recaptcha config show -o json   # JSON`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report problems",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowFlags = AddStandardFlags(configShowCmd, "output")
}

// redacted returns a copy of cfg that is safe to print.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	out.Captcha.SecretKey = logging.SanitizeForLog(cfg.Captcha.SecretKey)
	return &out
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Text has no structure of its own here.
	format := configShowFlags.OutputFormat
	if format == FormatText {
		format = FormatYAML
	}
	return writeStructured(cmd.OutOrStdout(), format, redacted(cfg))
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	result := config.ValidateConfigWithDetails(cfg)
	out := cmd.OutOrStdout()
	if report := result.String(); report != "" {
		fmt.Fprint(out, report)
	}

	if !result.Valid {
		return fmt.Errorf("configuration has %d error(s)", len(result.Errors))
	}

	fmt.Fprintln(out, "Configuration is valid")
	return nil
}
