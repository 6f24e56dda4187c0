package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/invisible-recaptcha/internal/verifier"
)

// ErrVerificationFailed is returned when a token does not verify.
var ErrVerificationFailed = errors.New("captcha verification failed")

var (
	verifyIP    string
	verifyFlags *StandardFlags
)

var verifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a response token against siteverify",
	Long: `Send a g-recaptcha-response token to the siteverify endpoint and print
the verdict. The command exits non-zero when the token does not verify.

When siteverify cannot be reached the fail_open option decides the outcome,
exactly as it does for form submissions.

Examples:
  recaptcha verify 03AGdBq2...               # Verify a token
  recaptcha verify 03AGdBq2... --ip 1.2.3.4  # Include the client address
  recaptcha verify 03AGdBq2... -o json       # Machine-readable verdict`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyIP, "ip", "", "Client IP address sent as remoteip")
	verifyFlags = AddStandardFlags(verifyCmd, "output")
}

type verifyResult struct {
	Success     bool      `json:"success"               yaml:"success"`
	Hostname    string    `json:"hostname,omitempty"    yaml:"hostname,omitempty"`
	ChallengeTS time.Time `json:"challenge_ts,omitzero" yaml:"challenge_ts,omitempty"`
	ErrorCodes  []string  `json:"error_codes,omitempty" yaml:"error_codes,omitempty"`
	FailOpen    bool      `json:"fail_open,omitempty"   yaml:"fail_open,omitempty"`
	Error       string    `json:"error,omitempty"       yaml:"error,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	captcha, err := cfg.NewCaptcha()
	if err != nil {
		return err
	}

	v := verifier.New(captcha, verifier.WithLogger(newLogger(cfg, cmd.ErrOrStderr())))

	var result verifyResult
	token := strings.TrimSpace(args[0])
	if token == "" {
		// A blank token fails without a siteverify call, so fail_open never applies.
		result.Error = "empty token"
		if err := printVerifyResult(cmd, result); err != nil {
			return err
		}
		return ErrVerificationFailed
	}

	verdict, err := v.Check(cmd.Context(), token, verifyIP)
	switch {
	case err != nil:
		result.Error = err.Error()
		result.FailOpen = captcha.Options().FailOpen
		result.Success = result.FailOpen
	default:
		result.Success = verdict.Success
		result.Hostname = verdict.Hostname
		result.ChallengeTS = verdict.ChallengeTS
		result.ErrorCodes = verdict.ErrorCodes
	}

	if err := printVerifyResult(cmd, result); err != nil {
		return err
	}

	if !result.Success {
		return ErrVerificationFailed
	}
	return nil
}

func printVerifyResult(cmd *cobra.Command, result verifyResult) error {
	out := cmd.OutOrStdout()
	if verifyFlags.OutputFormat != FormatText {
		return writeStructured(out, verifyFlags.OutputFormat, result)
	}

	fmt.Fprintf(out, "success: %t\n", result.Success)
	if result.Hostname != "" {
		fmt.Fprintf(out, "hostname: %s\n", result.Hostname)
	}
	if !result.ChallengeTS.IsZero() {
		fmt.Fprintf(out, "challenge_ts: %s\n", result.ChallengeTS.Format(time.RFC3339))
	}
	if len(result.ErrorCodes) > 0 {
		fmt.Fprintf(out, "error-codes: %s\n", strings.Join(result.ErrorCodes, ", "))
	}
	if result.Error != "" {
		fmt.Fprintf(out, "error: %s\n", result.Error)
		if result.FailOpen {
			fmt.Fprintln(out, "siteverify unreachable, accepted because fail_open is set")
		}
	}
	return nil
}
