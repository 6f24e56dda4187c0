package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/conneroisu/invisible-recaptcha/internal/errors"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.False(t, opts.HideBadge)
	assert.Equal(t, BadgeBottomRight, opts.DataBadge)
	assert.Equal(t, 5, opts.Timeout)
	assert.False(t, opts.Debug)
	assert.False(t, opts.LazyLoad)
	assert.True(t, opts.FailOpen)
	assert.Equal(t, DefaultAPIURL, opts.APIURL)
	assert.Equal(t, DefaultVerifyURL, opts.VerifyURL)
	assert.NoError(t, opts.Validate())
}

func TestOptionsFromMap(t *testing.T) {
	tests := []struct {
		name        string
		bag         map[string]interface{}
		expectError bool
		check       func(t *testing.T, opts Options)
	}{
		{
			name: "empty bag uses defaults",
			bag:  nil,
			check: func(t *testing.T, opts Options) {
				assert.Equal(t, DefaultOptions(), opts)
			},
		},
		{
			name: "camel case keys",
			bag: map[string]interface{}{
				"hideBadge": true,
				"dataBadge": "inline",
				"timeout":   10,
				"debug":     true,
				"lazyLoad":  true,
			},
			check: func(t *testing.T, opts Options) {
				assert.True(t, opts.HideBadge)
				assert.Equal(t, BadgeInline, opts.DataBadge)
				assert.Equal(t, 10, opts.Timeout)
				assert.True(t, opts.Debug)
				assert.True(t, opts.LazyLoad)
			},
		},
		{
			name: "snake case and string values from env",
			bag: map[string]interface{}{
				"hide_badge": "true",
				"data_badge": "BottomLeft",
				"timeout":    "3",
				"fail_open":  "false",
			},
			check: func(t *testing.T, opts Options) {
				assert.True(t, opts.HideBadge)
				assert.Equal(t, BadgeBottomLeft, opts.DataBadge)
				assert.Equal(t, 3, opts.Timeout)
				assert.False(t, opts.FailOpen)
			},
		},
		{
			name: "viper lower-cased keys",
			bag: map[string]interface{}{
				"hidebadge": true,
				"lazyload":  true,
			},
			check: func(t *testing.T, opts Options) {
				assert.True(t, opts.HideBadge)
				assert.True(t, opts.LazyLoad)
			},
		},
		{
			name: "unknown keys are ignored",
			bag: map[string]interface{}{
				"theme":     "dark",
				"hideBadge": false,
			},
			check: func(t *testing.T, opts Options) {
				assert.Equal(t, DefaultOptions(), opts)
			},
		},
		{
			name:        "invalid badge",
			bag:         map[string]interface{}{"dataBadge": "top"},
			expectError: true,
		},
		{
			name:        "uncoercible bool",
			bag:         map[string]interface{}{"debug": "maybe"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := OptionsFromMap(tt.bag)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, cerrors.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			tt.check(t, opts)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		valid  bool
	}{
		{"defaults", func(o *Options) {}, true},
		{"zero timeout", func(o *Options) { o.Timeout = 0 }, false},
		{"negative timeout", func(o *Options) { o.Timeout = -1 }, false},
		{"empty badge", func(o *Options) { o.DataBadge = "" }, false},
		{"polyfill disabled", func(o *Options) { o.PolyfillURL = "" }, true},
		{"bad verify url", func(o *Options) { o.VerifyURL = "ftp://example.com/verify" }, false},
		{"api url with query", func(o *Options) { o.APIURL = "https://www.google.com/recaptcha/api.js?hl=en" }, true},
		{"api url with fragment", func(o *Options) { o.APIURL = "https://www.google.com/recaptcha/api.js#x" }, false},
		{"mirror urls", func(o *Options) {
			o.APIURL = "https://www.recaptcha.net/recaptcha/api.js"
			o.VerifyURL = "https://www.recaptcha.net/recaptcha/api/siteverify"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewCaptchaKeysAreFixed(t *testing.T) {
	c, err := NewCaptcha("SK", "SEC", DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "SK", c.SiteKey())
	assert.Equal(t, "SEC", c.SecretKey())

	require.NoError(t, c.SetOption("siteKey", "other"))
	assert.Equal(t, "SK", c.SiteKey())
}

func TestNewCaptchaAllowsEmptyKeys(t *testing.T) {
	c, err := NewCaptcha("", "", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, c.SiteKey())
}

func TestNewCaptchaRejectsInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 0
	_, err := NewCaptcha("SK", "SEC", opts)
	assert.Error(t, err)

	assert.Panics(t, func() { MustNewCaptcha("SK", "SEC", opts) })
}

func TestSetOption(t *testing.T) {
	c := MustNewCaptcha("SK", "SEC", DefaultOptions())

	require.NoError(t, c.SetOption("hideBadge", true))
	assert.True(t, c.Options().HideBadge)

	v, ok := c.Option("hide_badge")
	require.True(t, ok)
	assert.Equal(t, true, v)

	require.NoError(t, c.SetOption("timeout", "7"))
	assert.Equal(t, 7, c.Options().Timeout)

	err := c.SetOption("timeout", 0)
	require.Error(t, err)
	assert.Equal(t, 7, c.Options().Timeout, "failed override must not be committed")

	require.NoError(t, c.SetOption("unknown", 1))
	_, ok = c.Option("unknown")
	assert.False(t, ok)
}

func TestTimeoutDuration(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, "5s", opts.TimeoutDuration().String())
}

func TestParseBadge(t *testing.T) {
	b, err := ParseBadge(" INLINE ")
	require.NoError(t, err)
	assert.Equal(t, BadgeInline, b)

	_, err = ParseBadge("topleft")
	assert.Error(t, err)
}

func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:  "defaults",
			setup: func(v *viper.Viper) {},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.True(t, cfg.Server.RateLimit.Enabled)
				assert.Equal(t, "info", cfg.Log.Level)

				c, err := cfg.NewCaptcha()
				require.NoError(t, err)
				assert.Equal(t, DefaultOptions(), c.Options())
			},
		},
		{
			name: "explicit values",
			setup: func(v *viper.Viper) {
				v.Set("captcha.site_key", "SK")
				v.Set("captcha.secret_key", "SEC")
				v.Set("captcha.options", map[string]interface{}{
					"hideBadge": false,
					"dataBadge": "bottomright",
					"timeout":   5,
					"debug":     false,
				})
				v.Set("server.port", 9090)
			},
			check: func(t *testing.T, cfg *Config) {
				c, err := cfg.NewCaptcha()
				require.NoError(t, err)
				assert.Equal(t, "SK", c.SiteKey())
				assert.Equal(t, "SEC", c.SecretKey())
				assert.Equal(t, BadgeBottomRight, c.Options().DataBadge)
				assert.Equal(t, 9090, cfg.Server.Port)
			},
		},
		{
			name: "invalid option",
			setup: func(v *viper.Viper) {
				v.Set("captcha.options", map[string]interface{}{"dataBadge": "middle"})
			},
			expectError: true,
		},
		{
			name: "invalid port",
			setup: func(v *viper.Viper) {
				v.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "invalid rate limit",
			setup: func(v *viper.Viper) {
				v.Set("server.rate_limit.burst", 0)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromLegacyEnvironment(t *testing.T) {
	t.Setenv("INVISIBLE_RECAPTCHA_SITEKEY", "legacy-site")
	t.Setenv("INVISIBLE_RECAPTCHA_SECRETKEY", "legacy-secret")
	t.Setenv("INVISIBLE_RECAPTCHA_BADGEHIDE", "true")
	t.Setenv("RECAPTCHA_CAPTCHA_OPTIONS_LAZY_LOAD", "true")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	c, err := cfg.NewCaptcha()
	require.NoError(t, err)
	assert.Equal(t, "legacy-site", c.SiteKey())
	assert.Equal(t, "legacy-secret", c.SecretKey())
	assert.True(t, c.Options().HideBadge)
	assert.True(t, c.Options().LazyLoad)
}

func TestLoadFromPrefersNewEnvironmentNames(t *testing.T) {
	t.Setenv("RECAPTCHA_CAPTCHA_SITE_KEY", "new-site")
	t.Setenv("INVISIBLE_RECAPTCHA_SITEKEY", "legacy-site")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "new-site", cfg.Captcha.SiteKey)
}

func TestLoadFromEnvironmentOverridesFileOptions(t *testing.T) {
	t.Setenv("INVISIBLE_RECAPTCHA_BADGEHIDE", "false")
	t.Setenv("RECAPTCHA_CAPTCHA_OPTIONS_FAIL_OPEN", "false")

	file := "captcha:\n  options:\n    hideBadge: true\n    failOpen: true\n    timeout: 7\n"

	for n := 0; n < 50; n++ {
		v := viper.New()
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(file)))

		cfg, err := LoadFrom(v)
		require.NoError(t, err)

		c, err := cfg.NewCaptcha()
		require.NoError(t, err)
		require.False(t, c.Options().HideBadge)
		require.False(t, c.Options().FailOpen)
		require.Equal(t, 7, c.Options().Timeout)
		require.Len(t, cfg.Captcha.Options, 3)
	}
}

func TestFoldOptionsWithoutEnvironment(t *testing.T) {
	folded := foldOptions(viper.New(), map[string]interface{}{
		"hide_badge": false,
		"hidebadge":  true,
		"debug":      true,
	})

	assert.Equal(t, map[string]interface{}{"hidebadge": true, "debug": true}, folded)
	assert.Empty(t, foldOptions(viper.New(), nil))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RECAPTCHA_TEST_ENV_FILE_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("RECAPTCHA_TEST_ENV_FILE_KEY") })

	loaded, err := LoadEnvFile(filepath.Join(dir, "missing.env"), path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, "from-file", os.Getenv("RECAPTCHA_TEST_ENV_FILE_KEY"))

	loaded, err = LoadEnvFile(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestValidateConfigWithDetails(t *testing.T) {
	cfg := &Config{
		Captcha: CaptchaConfig{
			Options: map[string]interface{}{
				"theme":   "dark",
				"timeout": 60,
			},
		},
		Server: ServerConfig{Host: "localhost", Port: 80},
	}

	result := ValidateConfigWithDetails(cfg)

	assert.True(t, result.Valid)
	assert.False(t, result.HasErrors())
	assert.True(t, result.HasWarnings())

	fields := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	assert.Contains(t, fields, "captcha.site_key")
	assert.Contains(t, fields, "captcha.secret_key")
	assert.Contains(t, fields, "captcha.options.theme")
	assert.Contains(t, fields, "captcha.options.timeout")
	assert.Contains(t, fields, "server.port")
	assert.Contains(t, result.String(), "Validation warnings")
}

func TestValidateConfigWithDetailsErrors(t *testing.T) {
	cfg := &Config{
		Captcha: CaptchaConfig{
			SiteKey:   "SK",
			SecretKey: "SEC",
			Options:   map[string]interface{}{"dataBadge": "top"},
		},
		Server: ServerConfig{Host: "bad;host", Port: 8080},
	}

	result := ValidateConfigWithDetails(cfg)

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "captcha.options.dataBadge", result.Errors[0].Field)
	assert.Equal(t, "server", result.Errors[1].Field)
	assert.Contains(t, result.String(), "Validation errors")
}

func TestValidateConfigWithDetailsBadCoercion(t *testing.T) {
	cfg := &Config{
		Captcha: CaptchaConfig{
			SiteKey:   "SK",
			SecretKey: "SEC",
			Options:   map[string]interface{}{"timeout": "abc"},
		},
		Server: ServerConfig{Host: "localhost", Port: 8080},
	}

	result := ValidateConfigWithDetails(cfg)

	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "captcha.options.timeout", result.Errors[0].Field)
}

func TestSetKeepsPreviousValueOnError(t *testing.T) {
	opts := DefaultOptions()

	assert.Error(t, opts.set("timeout", "abc"))
	assert.Error(t, opts.set("dataBadge", "top"))
	assert.Equal(t, DefaultOptions(), opts)
}
