package config

import (
	"fmt"
)

// MirrorHost serves the same loader and verification endpoints for regions
// where www.google.com is unreachable.
const MirrorHost = "https://www.recaptcha.net"

// Builder provides a fluent interface for assembling a Captcha. Errors are
// collected and reported once by Build.
//
// Usage:
//
//	captcha, err := config.NewBuilder(siteKey, secretKey).
//	    WithBadge(config.BadgeInline).
//	    WithLazyLoad().
//	    Build()
type Builder struct {
	siteKey    string
	secretKey  string
	options    Options
	validators []ValidatorFunc
}

// ValidatorFunc is an extra check run against the final options.
type ValidatorFunc func(Options) error

// NewBuilder starts from DefaultOptions.
func NewBuilder(siteKey, secretKey string) *Builder {
	return &Builder{
		siteKey:   siteKey,
		secretKey: secretKey,
		options:   DefaultOptions(),
	}
}

// WithOptions replaces every option at once.
func (b *Builder) WithOptions(opts Options) *Builder {
	b.options = opts
	return b
}

// WithBadge sets the badge position.
func (b *Builder) WithBadge(badge Badge) *Builder {
	b.options.DataBadge = badge
	return b
}

// WithHiddenBadge hides the vendor badge.
func (b *Builder) WithHiddenBadge() *Builder {
	b.options.HideBadge = true
	return b
}

// WithTimeout sets the verification timeout in seconds.
func (b *Builder) WithTimeout(seconds int) *Builder {
	b.options.Timeout = seconds
	return b
}

func (b *Builder) WithDebug() *Builder {
	b.options.Debug = true
	return b
}

func (b *Builder) WithLazyLoad() *Builder {
	b.options.LazyLoad = true
	return b
}

// WithFailClosed rejects submissions when the verification endpoint cannot
// be reached.
func (b *Builder) WithFailClosed() *Builder {
	b.options.FailOpen = false
	return b
}

// WithoutPolyfill disables the polyfill script.
func (b *Builder) WithoutPolyfill() *Builder {
	b.options.PolyfillURL = ""
	return b
}

// WithMirror points the loader and verification endpoints at the
// recaptcha.net mirror.
func (b *Builder) WithMirror() *Builder {
	b.options.APIURL = MirrorHost + "/recaptcha/api.js"
	b.options.VerifyURL = MirrorHost + "/recaptcha/api/siteverify"
	return b
}

// WithOption applies a loosely typed option the same way configuration
// bags are applied.
func (b *Builder) WithOption(key string, value interface{}) *Builder {
	if err := b.options.set(key, value); err != nil {
		b.addValidator(err)
	}
	return b
}

// AddValidator adds a custom validation function
func (b *Builder) AddValidator(validator ValidatorFunc) *Builder {
	b.validators = append(b.validators, validator)
	return b
}

// Build validates the options and returns the configuration.
func (b *Builder) Build() (*Captcha, error) {
	for _, validator := range b.validators {
		if err := validator(b.options); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return NewCaptcha(b.siteKey, b.secretKey, b.options)
}

func (b *Builder) addValidator(err error) {
	b.validators = append(b.validators, func(Options) error {
		return err
	})
}
