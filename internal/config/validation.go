package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
	}

	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

// ValidateConfigWithDetails performs validation with detailed feedback. It
// reports missing keys as warnings: the vendor rejects them at verification
// time, which is how the integration behaves in production too.
func ValidateConfigWithDetails(cfg *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateCaptchaDetails(&cfg.Captcha, result)
	validateServerDetails(&cfg.Server, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateCaptchaDetails(cfg *CaptchaConfig, result *ValidationResult) {
	if cfg.SiteKey == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "captcha.site_key",
			Message: "site key is empty; the widget will not render",
			Suggestions: []string{
				"Set RECAPTCHA_CAPTCHA_SITE_KEY or INVISIBLE_RECAPTCHA_SITEKEY",
				"Create an invisible reCAPTCHA v2 key in the Google admin console",
			},
		})
	}
	if cfg.SecretKey == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "captcha.secret_key",
			Message: "secret key is empty; every verification will fail",
			Suggestions: []string{
				"Set RECAPTCHA_CAPTCHA_SECRET_KEY or INVISIBLE_RECAPTCHA_SECRETKEY",
			},
		})
	}

	opts := DefaultOptions()
	for _, key := range sortedKeys(cfg.Options) {
		value := cfg.Options[key]
		if err := opts.set(key, value); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "captcha.options." + key,
				Value:   value,
				Message: err.Error(),
			})
			continue
		}
		if _, known := opts.get(key); !known {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   "captcha.options." + key,
				Value:   value,
				Message: "unknown option is ignored",
				Suggestions: []string{
					"Known options: " + strings.Join(OptionNames, ", "),
				},
			})
		}
	}

	if err := opts.Validate(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "captcha.options",
			Message: err.Error(),
			Suggestions: []string{
				"data_badge must be bottomright, bottomleft or inline",
				"timeout is a positive number of seconds",
			},
		})
	}

	if opts.Timeout > 30 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "captcha.options.timeout",
			Value:   opts.Timeout,
			Message: "long verification timeouts hold form submissions open",
		})
	}
}

func validateServerDetails(cfg *ServerConfig, result *ValidationResult) {
	if err := validateServerConfig(cfg); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server",
			Value:   cfg.Addr(),
			Message: err.Error(),
			Suggestions: []string{
				"Use 'localhost' for local development",
				"Use a port between 1024-65535 for non-privileged access",
			},
		})
		return
	}

	if cfg.Port > 0 && cfg.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   cfg.Port,
			Message: "port below 1024 requires elevated privileges",
		})
	}
}
