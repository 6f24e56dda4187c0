package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
)

// DefaultConfigFile is the file init writes and the root command looks for.
const DefaultConfigFile = ".recaptcha.yml"

var (
	initOutput string
	initForce  bool
	initDotenv string
)

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"i"},
	Short:   "Create a configuration file interactively",
	Long: `Ask for the site key, the secret key and the widget options, then write
a configuration file.

With --dotenv the keys are also written to a dotenv file using the
INVISIBLE_RECAPTCHA_SITEKEY and INVISIBLE_RECAPTCHA_SECRETKEY variables, so
the YAML file can be committed without secrets.

Examples:
  recaptcha init                        # Write .recaptcha.yml
  recaptcha init --output prod.yml      # Write another file
  recaptcha init --dotenv .env          # Also write the keys to .env
  recaptcha init --force                # Replace an existing file`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVarP(&initOutput, "output", "o", DefaultConfigFile, "Configuration file to write")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
	initCmd.Flags().StringVar(&initDotenv, "dotenv", "", "Also write the keys to this dotenv file")
}

func runInit(cmd *cobra.Command, args []string) error {
	for _, path := range []string{initOutput, initDotenv} {
		if path == "" || initForce {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	wizard := config.NewConfigWizard(cmd.InOrStdin(), cmd.OutOrStdout())
	cfg, err := wizard.Run()
	if err != nil {
		return err
	}

	if initDotenv != "" {
		if err := writeDotenv(initDotenv, cfg); err != nil {
			return err
		}
		cfg.Captcha.SiteKey = ""
		cfg.Captcha.SecretKey = ""
	}

	if err := wizard.WriteConfigFile(initOutput, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nWrote %s\n", initOutput)
	if initDotenv != "" {
		fmt.Fprintf(out, "Wrote %s\n", initDotenv)
	}
	return nil
}

func writeDotenv(path string, cfg *config.Config) error {
	env := map[string]string{
		"INVISIBLE_RECAPTCHA_SITEKEY":   cfg.Captcha.SiteKey,
		"INVISIBLE_RECAPTCHA_SECRETKEY": cfg.Captcha.SecretKey,
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
