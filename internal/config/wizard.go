package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigWizard asks for the keys and widget options and writes a
// configuration file.
type ConfigWizard struct {
	reader *bufio.Reader
	out    io.Writer
	config *Config
}

// NewConfigWizard creates a wizard reading answers from in.
func NewConfigWizard(in io.Reader, out io.Writer) *ConfigWizard {
	return &ConfigWizard{
		reader: bufio.NewReader(in),
		out:    out,
		config: &Config{},
	}
}

// Run executes the interactive configuration wizard
func (w *ConfigWizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "reCAPTCHA configuration")
	fmt.Fprintln(w.out, "=======================")
	fmt.Fprintln(w.out, "Press enter to keep the value in brackets.")
	fmt.Fprintln(w.out)

	if err := w.configureCaptcha(); err != nil {
		return nil, fmt.Errorf("captcha configuration failed: %w", err)
	}
	if err := w.configureServer(); err != nil {
		return nil, fmt.Errorf("server configuration failed: %w", err)
	}

	if err := validateConfig(w.config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return w.config, nil
}

func (w *ConfigWizard) configureCaptcha() error {
	defaults := DefaultOptions()

	w.config.Captcha.SiteKey = w.askString("Site key", "")
	w.config.Captcha.SecretKey = w.askString("Secret key", "")

	choices := []string{string(BadgeBottomRight), string(BadgeBottomLeft), string(BadgeInline)}
	badge := w.askChoice("Badge position", choices, string(defaults.DataBadge))

	timeout, err := w.askInt("Verification timeout in seconds", defaults.Timeout, 1, 60)
	if err != nil {
		return err
	}

	hide := w.askBool("Hide the badge", defaults.HideBadge)
	lazy := w.askBool("Load the widget on first interaction", defaults.LazyLoad)
	failOpen := w.askBool("Accept submissions when Google is unreachable", defaults.FailOpen)
	debug := w.askBool("Log widget lifecycle to the browser console", defaults.Debug)

	w.config.Captcha.Options = map[string]interface{}{
		"hide_badge": hide,
		"data_badge": badge,
		"timeout":    timeout,
		"lazy_load":  lazy,
		"fail_open":  failOpen,
		"debug":      debug,
	}
	return nil
}

func (w *ConfigWizard) configureServer() error {
	w.config.Server.Host = w.askString("Demo server host", "localhost")

	port, err := w.askInt("Demo server port", 8080, 1, 65535)
	if err != nil {
		return err
	}
	w.config.Server.Port = port
	w.config.Server.RateLimit = RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             5,
	}
	w.config.Log = LogConfig{Level: "info", Format: "text"}
	return nil
}

func (w *ConfigWizard) askString(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, defaultValue)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	input, err := w.reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	if err != nil && err != io.EOF {
		return defaultValue
	}

	return input
}

func (w *ConfigWizard) askInt(prompt string, defaultValue, min, max int) (int, error) {
	for {
		fmt.Fprintf(w.out, "%s [%d]: ", prompt, defaultValue)

		input, err := w.reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			return defaultValue, nil
		}

		value, convErr := strconv.Atoi(input)
		if convErr == nil && value >= min && value <= max {
			return value, nil
		}
		if err != nil {
			return 0, fmt.Errorf("%s: expected a number between %d and %d", prompt, min, max)
		}

		fmt.Fprintf(w.out, "Please enter a number between %d and %d.\n", min, max)
	}
}

func (w *ConfigWizard) askBool(prompt string, defaultValue bool) bool {
	defaultStr := "n"
	if defaultValue {
		defaultStr = "y"
	}

	fmt.Fprintf(w.out, "%s [%s]: ", prompt, defaultStr)

	input, _ := w.reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return defaultValue
	}

	return input == "y" || input == "yes" || input == "true"
}

func (w *ConfigWizard) askChoice(prompt string, choices []string, defaultValue string) string {
	for {
		fmt.Fprintf(w.out, "%s [%s] (options: %s): ", prompt, defaultValue, strings.Join(choices, ", "))

		input, err := w.reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			return defaultValue
		}

		for _, choice := range choices {
			if strings.EqualFold(input, choice) {
				return choice
			}
		}
		if err != nil {
			return defaultValue
		}

		fmt.Fprintf(w.out, "Invalid choice. Please select from: %s\n", strings.Join(choices, ", "))
	}
}

// WriteConfigFile writes the collected configuration as YAML. An existing
// file is only replaced when overwrite is set.
func (w *ConfigWizard) WriteConfigFile(filename string, overwrite bool) error {
	if _, err := os.Stat(filename); err == nil && !overwrite {
		return fmt.Errorf("configuration file %s already exists", filename)
	}

	content, err := yaml.Marshal(w.config)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	header := "# reCAPTCHA configuration\n# Keys can also come from RECAPTCHA_CAPTCHA_SITE_KEY and RECAPTCHA_CAPTCHA_SECRET_KEY.\n\n"
	if err := os.WriteFile(filename, append([]byte(header), content...), 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	return nil
}
