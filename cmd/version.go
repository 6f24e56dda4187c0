package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/invisible-recaptcha/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information including the semantic version, the git
commit, the build timestamp, the Go version and the target platform.

Examples:
  recaptcha version               # Version, commit and platform
  recaptcha version --short       # Version only
  recaptcha version --detailed    # Every build field
  recaptcha version --format json # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	out := cmd.OutOrStdout()

	switch versionFormat {
	case FormatJSON:
		return outputVersionJSON(cmd)
	case FormatText:
		switch {
		case versionShort:
			fmt.Fprintln(out, version.GetShortVersion())
		case detailed:
			outputVersionDetailed(cmd)
		default:
			outputVersionDefault(cmd)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}

func outputVersionDefault(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	info := version.GetBuildInfo()

	fmt.Fprintf(out, "recaptcha %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
	}
	if version.IsDirty() {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)

	if !info.BuildTime.IsZero() {
		fmt.Fprintf(out, "Built: %s\n", info.BuildTime.Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(out, "Platform: %s\n", info.Platform)
}

func outputVersionDetailed(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, version.GetDetailedVersion())

	if version.IsRelease() {
		fmt.Fprintln(out, "Build type: release")
	} else {
		fmt.Fprintln(out, "Build type: development")
	}
}

func outputVersionJSON(cmd *cobra.Command) error {
	info := version.GetBuildInfo()

	return writeStructured(cmd.OutOrStdout(), FormatJSON, map[string]interface{}{
		"version":    info.Version,
		"git_commit": info.GitCommit,
		"build_time": info.BuildTime,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
		"user_agent": version.UserAgent(),
		"is_release": version.IsRelease(),
		"is_dirty":   version.IsDirty(),
	})
}
