// Package config provides configuration management for the reCAPTCHA
// integration using Viper for loading from files, environment variables and
// command-line flags.
//
// The configuration supports YAML files, environment variable overrides with
// the RECAPTCHA_ prefix, the legacy INVISIBLE_RECAPTCHA_* variables, and a
// .env file. The captcha options section is read as a loose map and turned
// into typed Options, so unknown keys in a config file are ignored rather
// than rejected.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/conneroisu/invisible-recaptcha/internal/errors"
)

type Config struct {
	Captcha CaptchaConfig `mapstructure:"captcha" yaml:"captcha"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type CaptchaConfig struct {
	SiteKey   string                 `mapstructure:"site_key" yaml:"site_key"`
	SecretKey string                 `mapstructure:"secret_key" yaml:"secret_key"`
	Options   map[string]interface{} `mapstructure:"options" yaml:"options"`
}

type ServerConfig struct {
	Host      string          `mapstructure:"host" yaml:"host"`
	Port      int             `mapstructure:"port" yaml:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// optionEnv maps config keys to their environment variables. The
// INVISIBLE_RECAPTCHA_* names are the legacy ones.
var optionEnv = map[string][]string{
	"captcha.site_key":                    {"RECAPTCHA_CAPTCHA_SITE_KEY", "INVISIBLE_RECAPTCHA_SITEKEY"},
	"captcha.secret_key":                  {"RECAPTCHA_CAPTCHA_SECRET_KEY", "INVISIBLE_RECAPTCHA_SECRETKEY"},
	"captcha.options.hide_badge":          {"RECAPTCHA_CAPTCHA_OPTIONS_HIDE_BADGE", "INVISIBLE_RECAPTCHA_BADGEHIDE"},
	"captcha.options.debug":               {"RECAPTCHA_CAPTCHA_OPTIONS_DEBUG", "INVISIBLE_RECAPTCHA_DEBUG"},
	"captcha.options.data_badge":          {"RECAPTCHA_CAPTCHA_OPTIONS_DATA_BADGE", "INVISIBLE_RECAPTCHA_DATABADGE"},
	"captcha.options.timeout":             {"RECAPTCHA_CAPTCHA_OPTIONS_TIMEOUT", "INVISIBLE_RECAPTCHA_TIMEOUT"},
	"captcha.options.lazy_load":           {"RECAPTCHA_CAPTCHA_OPTIONS_LAZY_LOAD"},
	"captcha.options.fail_open":           {"RECAPTCHA_CAPTCHA_OPTIONS_FAIL_OPEN"},
	"captcha.options.polyfill_url":        {"RECAPTCHA_CAPTCHA_OPTIONS_POLYFILL_URL"},
	"captcha.options.verify_url":          {"RECAPTCHA_CAPTCHA_OPTIONS_VERIFY_URL"},
	"captcha.options.api_url":             {"RECAPTCHA_CAPTCHA_OPTIONS_API_URL"},
	"captcha.options.trust_proxy_headers": {"RECAPTCHA_CAPTCHA_OPTIONS_TRUST_PROXY_HEADERS"},
}

// BindEnv binds every captcha key to its environment variables. It is
// idempotent and safe to call before each Load.
func BindEnv(v *viper.Viper) {
	for key, envs := range optionEnv {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

// SetDefaults registers defaults for the non-captcha sections.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests_per_second", 1.0)
	v.SetDefault("server.rate_limit.burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadEnvFile loads the first .env file found among paths into the process
// environment. Existing variables are never overwritten. It returns the path
// that was loaded, or "" when none existed.
func LoadEnvFile(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("loading %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

// Load reads the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Decode unmarshals configuration from v without validating it. Use
// ValidateConfigWithDetails to report on the result.
func Decode(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Captcha.Options = foldOptions(v, cfg.Captcha.Options)

	return &cfg, nil
}

// optionsPrefix is the viper key prefix of the captcha options section.
const optionsPrefix = "captcha.options."

// foldOptions collapses the spellings of one option (hideBadge from a file,
// hide_badge from an env binding) into a single entry. A value from an
// environment variable wins; otherwise the last spelling in sorted order
// does, so the result never depends on map iteration.
func foldOptions(v *viper.Viper, raw map[string]interface{}) map[string]interface{} {
	spelling := make(map[string]string, len(raw))
	folded := make(map[string]interface{}, len(raw))
	for _, key := range sortedKeys(raw) {
		norm := normalizeKey(key)
		if prev, ok := spelling[norm]; ok {
			delete(folded, prev)
		}
		spelling[norm] = key
		folded[key] = raw[key]
	}

	for key, envs := range optionEnv {
		name, ok := strings.CutPrefix(key, optionsPrefix)
		if !ok || !envSet(envs) {
			continue
		}
		norm := normalizeKey(name)
		if prev, ok := spelling[norm]; ok {
			delete(folded, prev)
		}
		spelling[norm] = name
		folded[name] = v.Get(key)
	}

	return folded
}

func envSet(names []string) bool {
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return true
		}
	}
	return false
}

// NewCaptcha builds the typed captcha configuration.
func (c *Config) NewCaptcha() (*Captcha, error) {
	opts, err := OptionsFromMap(c.Captcha.Options)
	if err != nil {
		return nil, err
	}
	return NewCaptcha(c.Captcha.SiteKey, c.Captcha.SecretKey, opts)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// validateConfig validates configuration values for correctness
func validateConfig(cfg *Config) error {
	if _, err := cfg.NewCaptcha(); err != nil {
		return fmt.Errorf("captcha config: %w", err)
	}

	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	// Allow 0 for system-assigned ports in testing
	if cfg.Port < 0 || cfg.Port > 65535 {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("port %d is not in valid range 0-65535", cfg.Port))
	}

	if cfg.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "}
		for _, char := range dangerousChars {
			if strings.Contains(cfg.Host, char) {
				return errors.NewConfigError(errors.ErrCodeConfigInvalid,
					fmt.Sprintf("host contains dangerous character: %q", char))
			}
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				"rate_limit.requests_per_second must be positive")
		}
		if cfg.RateLimit.Burst <= 0 {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid,
				"rate_limit.burst must be positive")
		}
	}

	return nil
}
