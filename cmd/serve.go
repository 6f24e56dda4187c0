package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/server"
)

var serveFlags *StandardFlags

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the demo server",
	Long: `Start an HTTP server with a demo page protected by an invisible
reCAPTCHA. The page carries two forms sharing one bootstrap script.

Endpoints:
  GET  /            demo page
  POST /submit      form submission checked by the captcha validation rule
  POST /api/submit  JSON endpoint behind the captcha middleware
  GET  /healthz     health report
  GET  /metrics     Prometheus metrics

Examples:
  recaptcha serve                  # Serve on localhost:8080
  recaptcha serve --port 3000      # Serve on another port
  recaptcha serve --no-rate-limit  # Disable the submission rate limiter`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveFlags = AddStandardFlags(serveCmd, "server")
}

// applyServeFlags overrides the server section with flags the user set.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serveFlags.Port
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.NoRateLimit {
		cfg.Server.RateLimit.Enabled = false
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := newLogger(cfg, cmd.ErrOrStderr())

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving invisible reCAPTCHA demo at http://%s\n", srv.Addr())

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
