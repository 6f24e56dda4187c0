// Package provider binds the captcha services into a di.ServiceContainer.
//
// Register binds the configuration, a shared verifier, a fresh renderer per
// resolution and the rule validator. Boot extends the validator with the
// captcha rule once every provider has registered, so a host can swap the
// verifier binding between the two phases.
package provider

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/di"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/metrics"
	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
	"github.com/conneroisu/invisible-recaptcha/internal/validation"
	"github.com/conneroisu/invisible-recaptcha/internal/verifier"
)

// Service names bound by CaptchaServiceProvider.
const (
	ConfigService    = "captcha.config"
	MetricsService   = "captcha.metrics"
	VerifierService  = "captcha.verifier"
	RendererService  = "captcha.renderer"
	ValidatorService = "captcha.validator"
)

// Tag shared by every captcha service.
const Tag = "captcha"

// CaptchaServiceProvider registers the captcha services.
type CaptchaServiceProvider struct {
	captcha    *config.Captcha
	logger     logging.Logger
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	client     verifier.Doer
}

var _ di.ServiceProvider = (*CaptchaServiceProvider)(nil)

// Option configures the provider.
type Option func(*CaptchaServiceProvider)

func WithLogger(logger logging.Logger) Option {
	return func(p *CaptchaServiceProvider) {
		p.logger = logger
	}
}

// WithRegisterer registers the captcha metrics with reg. Without it the
// collectors still count but are not exported.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *CaptchaServiceProvider) {
		p.registerer = reg
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *CaptchaServiceProvider) {
		p.tracer = tp
	}
}

// WithHTTPClient sets the client the verifier posts with.
func WithHTTPClient(client verifier.Doer) Option {
	return func(p *CaptchaServiceProvider) {
		p.client = client
	}
}

// New creates a provider for cfg.
func New(cfg *config.Captcha, opts ...Option) *CaptchaServiceProvider {
	p := &CaptchaServiceProvider{
		captcha: cfg,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register implements di.ServiceProvider.
func (p *CaptchaServiceProvider) Register(c *di.ServiceContainer) error {
	c.RegisterInstance(ConfigService, p.captcha)

	c.RegisterSingleton(MetricsService, func(di.DependencyResolver) (interface{}, error) {
		return metrics.New(p.registerer), nil
	}).WithTag(Tag)

	c.RegisterSingleton(VerifierService, func(r di.DependencyResolver) (interface{}, error) {
		cfg, err := di.Resolve[*config.Captcha](r, ConfigService)
		if err != nil {
			return nil, err
		}
		m, err := di.Resolve[*metrics.Collector](r, MetricsService)
		if err != nil {
			return nil, err
		}

		opts := []verifier.Option{verifier.WithLogger(p.logger), verifier.WithMetrics(m)}
		if p.tracer != nil {
			opts = append(opts, verifier.WithTracerProvider(p.tracer))
		}
		if p.client != nil {
			opts = append(opts, verifier.WithHTTPClient(p.client))
		}
		return verifier.New(cfg, opts...), nil
	}).DependsOn(ConfigService, MetricsService).WithTag(Tag)

	// Transient: each resolution starts a new page with a zero counter.
	c.Register(RendererService, func(r di.DependencyResolver) (interface{}, error) {
		cfg, err := di.Resolve[*config.Captcha](r, ConfigService)
		if err != nil {
			return nil, err
		}
		m, err := di.Resolve[*metrics.Collector](r, MetricsService)
		if err != nil {
			return nil, err
		}
		return renderer.New(cfg, renderer.WithObserver(m)), nil
	}).DependsOn(ConfigService, MetricsService)

	c.RegisterSingleton(ValidatorService, func(di.DependencyResolver) (interface{}, error) {
		return validation.NewValidator(), nil
	}).WithTag(Tag)

	return nil
}

// Boot implements di.ServiceProvider.
func (p *CaptchaServiceProvider) Boot(c *di.ServiceContainer) error {
	v, err := Validator(c)
	if err != nil {
		return err
	}
	ver, err := Verifier(c)
	if err != nil {
		return err
	}

	v.Extend(validation.CaptchaRuleName, validation.CaptchaRule(ver))
	p.logger.Debug(context.Background(), "captcha services booted", "services", p.Provides())
	return nil
}

// Provides implements di.ServiceProvider.
func (p *CaptchaServiceProvider) Provides() []string {
	return []string{ConfigService, MetricsService, VerifierService, RendererService, ValidatorService}
}

// Verifier resolves the shared verifier.
func Verifier(c di.DependencyResolver) (*verifier.Verifier, error) {
	return di.Resolve[*verifier.Verifier](c, VerifierService)
}

// Renderer resolves a new renderer.
func Renderer(c di.DependencyResolver) (*renderer.Renderer, error) {
	return di.Resolve[*renderer.Renderer](c, RendererService)
}

// Validator resolves the shared validator.
func Validator(c di.DependencyResolver) (*validation.Validator, error) {
	return di.Resolve[*validation.Validator](c, ValidatorService)
}

// Metrics resolves the captcha metrics collector.
func Metrics(c di.DependencyResolver) (*metrics.Collector, error) {
	return di.Resolve[*metrics.Collector](c, MetricsService)
}
