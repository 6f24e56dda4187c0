package cmd

import (
	"fmt"
	"html/template"

	"github.com/spf13/cobra"

	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
)

// Parts accepted by render --part.
const (
	PartAll      = "all"
	PartPolyfill = "polyfill"
	PartHTML     = "html"
	PartScripts  = "scripts"
)

var (
	renderCount int
	renderPart  string
	renderFlags *StandardFlags
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print widget markup",
	Long: `Print the markup a page embeds for the configured site key.

Each rendered widget gets its own placeholder; the bootstrap script and the
vendor loader are emitted once, with the first widget.

Examples:
  recaptcha render                     # One widget
  recaptcha render --count 2           # Markup for two forms on one page
  recaptcha render --lang de           # German widget
  recaptcha render --nonce abc123      # CSP nonce on script tags
  recaptcha render --part scripts      # Only the bootstrap and loader`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().IntVarP(&renderCount, "count", "n", 1, "Number of widgets to render")
	renderCmd.Flags().StringVar(&renderPart, "part", PartAll, "Part to print (all|polyfill|html|scripts)")
	renderFlags = AddStandardFlags(renderCmd, "widget")
}

func runRender(cmd *cobra.Command, args []string) error {
	if renderCount < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", renderCount)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	captcha, err := cfg.NewCaptcha()
	if err != nil {
		return err
	}

	r := renderer.New(captcha)
	lang, nonce := renderFlags.Lang, renderFlags.Nonce

	var render func() template.HTML
	switch renderPart {
	case PartAll:
		render = func() template.HTML { return r.Render(lang, nonce) }
	case PartPolyfill:
		render = r.RenderPolyfill
	case PartHTML:
		render = r.RenderHTML
	case PartScripts:
		render = func() template.HTML { return r.RenderScripts(lang, nonce) }
	default:
		return fmt.Errorf("unknown part %q (expected all, polyfill, html or scripts)", renderPart)
	}

	out := cmd.OutOrStdout()
	for n := 0; n < renderCount; n++ {
		if _, err := fmt.Fprint(out, render()); err != nil {
			return err
		}
	}

	return nil
}
