package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/conneroisu/invisible-recaptcha/internal/errors"
	"github.com/conneroisu/invisible-recaptcha/internal/validation"
)

const (
	DefaultAPIURL      = "https://www.google.com/recaptcha/api.js"
	DefaultVerifyURL   = "https://www.google.com/recaptcha/api/siteverify"
	DefaultPolyfillURL = "https://cdnjs.cloudflare.com/polyfill/v3/polyfill.min.js"
	DefaultTimeout     = 5
)

// Badge is the position of the vendor badge.
type Badge string

const (
	BadgeBottomRight Badge = "bottomright"
	BadgeBottomLeft  Badge = "bottomleft"
	BadgeInline      Badge = "inline"
)

// ParseBadge accepts the three badge positions, case-insensitively.
func ParseBadge(s string) (Badge, error) {
	switch b := Badge(strings.ToLower(strings.TrimSpace(s))); b {
	case BadgeBottomRight, BadgeBottomLeft, BadgeInline:
		return b, nil
	default:
		return "", fmt.Errorf("unknown badge position %q (expected bottomright, bottomleft or inline)", s)
	}
}

// Option names as they appear in configuration bags. Lookups ignore case,
// underscores and dashes, so "hideBadge", "hide_badge" and "HIDE-BADGE"
// address the same option.
const (
	OptionHideBadge         = "hideBadge"
	OptionDataBadge         = "dataBadge"
	OptionTimeout           = "timeout"
	OptionDebug             = "debug"
	OptionLazyLoad          = "lazyLoad"
	OptionFailOpen          = "failOpen"
	OptionPolyfillURL       = "polyfillURL"
	OptionAPIURL            = "apiURL"
	OptionVerifyURL         = "verifyURL"
	OptionTrustProxyHeaders = "trustProxyHeaders"
)

// OptionNames lists every recognised option.
var OptionNames = []string{
	OptionHideBadge,
	OptionDataBadge,
	OptionTimeout,
	OptionDebug,
	OptionLazyLoad,
	OptionFailOpen,
	OptionPolyfillURL,
	OptionAPIURL,
	OptionVerifyURL,
	OptionTrustProxyHeaders,
}

// Options are the typed widget and verification settings.
type Options struct {
	HideBadge         bool   `yaml:"hide_badge"`
	DataBadge         Badge  `yaml:"data_badge"`
	Timeout           int    `yaml:"timeout"`
	Debug             bool   `yaml:"debug"`
	LazyLoad          bool   `yaml:"lazy_load"`
	FailOpen          bool   `yaml:"fail_open"`
	PolyfillURL       string `yaml:"polyfill_url"`
	APIURL            string `yaml:"api_url"`
	VerifyURL         string `yaml:"verify_url"`
	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		DataBadge:   BadgeBottomRight,
		Timeout:     DefaultTimeout,
		FailOpen:    true,
		PolyfillURL: DefaultPolyfillURL,
		APIURL:      DefaultAPIURL,
		VerifyURL:   DefaultVerifyURL,
	}
}

// TimeoutDuration converts the timeout in seconds to a time.Duration.
func (o Options) TimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// Validate checks enum values, the timeout and every URL.
func (o Options) Validate() error {
	if _, err := ParseBadge(string(o.DataBadge)); err != nil {
		return errors.NewConfigError(errors.ErrCodeInvalidOption, err.Error()).
			WithContext("option", OptionDataBadge)
	}
	if o.Timeout <= 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidOption,
			fmt.Sprintf("timeout must be positive, got %d", o.Timeout)).
			WithContext("option", OptionTimeout)
	}

	urls := []struct {
		name  string
		value string
	}{
		{OptionAPIURL, o.APIURL},
		{OptionVerifyURL, o.VerifyURL},
	}
	if o.PolyfillURL != "" {
		urls = append(urls, struct {
			name  string
			value string
		}{OptionPolyfillURL, o.PolyfillURL})
	}
	for _, u := range urls {
		if err := validation.ValidateURL(u.value); err != nil {
			return errors.NewConfigError(errors.ErrCodeInvalidURL,
				fmt.Sprintf("%s: %v", u.name, err)).
				WithContext("option", u.name)
		}
	}

	return nil
}

// OptionsFromMap builds Options from a loosely typed bag. Unknown keys are
// ignored and missing keys keep their defaults.
func OptionsFromMap(bag map[string]interface{}) (Options, error) {
	opts := DefaultOptions()
	for _, key := range sortedKeys(bag) {
		if err := opts.set(key, bag[key]); err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

func sortedKeys(bag map[string]interface{}) []string {
	keys := make([]string, 0, len(bag))
	for key := range bag {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// set coerces value into the option named key. Unknown keys are a no-op.
func (o *Options) set(key string, value interface{}) error {
	invalid := func(err error) error {
		return errors.NewConfigError(errors.ErrCodeInvalidOption,
			fmt.Sprintf("option %s: %v", key, err)).
			WithContext("option", key)
	}

	// Coerce into a copy so a bad value leaves the previous one in place.
	next := *o
	var err error
	switch normalizeKey(key) {
	case "hidebadge":
		next.HideBadge, err = cast.ToBoolE(value)
	case "databadge":
		var s string
		if s, err = cast.ToStringE(value); err == nil {
			next.DataBadge, err = ParseBadge(s)
		}
	case "timeout":
		next.Timeout, err = cast.ToIntE(value)
	case "debug":
		next.Debug, err = cast.ToBoolE(value)
	case "lazyload":
		next.LazyLoad, err = cast.ToBoolE(value)
	case "failopen":
		next.FailOpen, err = cast.ToBoolE(value)
	case "polyfillurl":
		next.PolyfillURL, err = cast.ToStringE(value)
	case "apiurl":
		next.APIURL, err = cast.ToStringE(value)
	case "verifyurl":
		next.VerifyURL, err = cast.ToStringE(value)
	case "trustproxyheaders":
		next.TrustProxyHeaders, err = cast.ToBoolE(value)
	}
	if err != nil {
		return invalid(err)
	}
	*o = next
	return nil
}

// get returns the option named key.
func (o Options) get(key string) (interface{}, bool) {
	switch normalizeKey(key) {
	case "hidebadge":
		return o.HideBadge, true
	case "databadge":
		return o.DataBadge, true
	case "timeout":
		return o.Timeout, true
	case "debug":
		return o.Debug, true
	case "lazyload":
		return o.LazyLoad, true
	case "failopen":
		return o.FailOpen, true
	case "polyfillurl":
		return o.PolyfillURL, true
	case "apiurl":
		return o.APIURL, true
	case "verifyurl":
		return o.VerifyURL, true
	case "trustproxyheaders":
		return o.TrustProxyHeaders, true
	}
	return nil, false
}

// Captcha is the reCAPTCHA configuration shared by the renderer and the
// verifier. The site and secret keys are fixed at construction; options can
// be overridden one key at a time with SetOption.
type Captcha struct {
	siteKey   string
	secretKey string

	mu      sync.RWMutex
	options Options
}

// NewCaptcha validates options and returns a configuration. Empty keys are
// accepted; the vendor rejects them at verification time.
func NewCaptcha(siteKey, secretKey string, options Options) (*Captcha, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &Captcha{
		siteKey:   siteKey,
		secretKey: secretKey,
		options:   options,
	}, nil
}

// MustNewCaptcha is NewCaptcha for statically known options.
func MustNewCaptcha(siteKey, secretKey string, options Options) *Captcha {
	c, err := NewCaptcha(siteKey, secretKey, options)
	if err != nil {
		panic(err)
	}
	return c
}

// SiteKey returns the public site key.
func (c *Captcha) SiteKey() string { return c.siteKey }

// SecretKey returns the verification secret.
func (c *Captcha) SecretKey() string { return c.secretKey }

// Options returns a snapshot of the current options.
func (c *Captcha) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.options
}

// Option reads a single option by name.
func (c *Captcha) Option(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.options.get(key)
}

// SetOption overrides one option. Unknown keys are ignored. The change is
// only committed when the resulting options still validate.
func (c *Captcha) SetOption(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.options
	if err := next.set(key, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.options = next
	return nil
}
