// Package cmd provides the command-line interface for the invisible
// reCAPTCHA toolkit.
//
// Configuration System:
//
//	Configuration comes from several sources, highest priority first:
//	1. Command-line flags (--config, --log-level, --port, ...)
//	2. RECAPTCHA_CONFIG_FILE environment variable: custom config file path
//	3. Environment variables (RECAPTCHA_CAPTCHA_SITE_KEY, INVISIBLE_RECAPTCHA_SITEKEY, ...)
//	4. A .env file, loaded into the environment without overriding it
//	5. Configuration files (.recaptcha.yml)
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
)

// ConfigFileEnv names the variable holding a custom config file path.
const ConfigFileEnv = "RECAPTCHA_CONFIG_FILE"

var (
	cfgFile  string
	envFile  string
	logLevel string

	// configErr is set when an explicitly requested config file could not
	// be read.
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "recaptcha",
	Short: "Render and verify invisible reCAPTCHA widgets",
	Long: `recaptcha renders invisible reCAPTCHA v2 widget markup and verifies
response tokens against Google's siteverify endpoint.

Quick Start:
  recaptcha init                  Write a .recaptcha.yml interactively
  recaptcha serve                 Start the demo server
  recaptcha render --count 2      Print widget markup for two forms
  recaptcha verify <token>        Check a response token
  recaptcha config show           Print the effective configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .recaptcha.yml, can also use "+ConfigFileEnv+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}

// initConfig points viper at the configuration file and the environment.
func initConfig() {
	configErr = nil

	if _, err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Warning:", err)
	}

	explicit := true
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(ConfigFileEnv); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".recaptcha")
	}

	viper.SetEnvPrefix("RECAPTCHA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if rootCmd.PersistentFlags().Changed("log-level") {
		viper.Set("log.level", logLevel)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed())
	} else if explicit {
		configErr = fmt.Errorf("reading config file: %w", err)
	}
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.Load()
}

// newLogger builds the command logger from the log section.
func newLogger(cfg *config.Config, out io.Writer) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    cfg.Log.Format,
		Output:    out,
		Component: "cli",
	})
}
