// Package server is a small demo application protecting two forms with the
// invisible reCAPTCHA widget. It wires the captcha provider into a service
// container and serves the page, the submission endpoints, a health report
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/di"
	cerrors "github.com/conneroisu/invisible-recaptcha/internal/errors"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/middleware"
	"github.com/conneroisu/invisible-recaptcha/internal/monitoring"
	"github.com/conneroisu/invisible-recaptcha/internal/provider"
	"github.com/conneroisu/invisible-recaptcha/internal/renderer"
	"github.com/conneroisu/invisible-recaptcha/internal/validation"
	"github.com/conneroisu/invisible-recaptcha/internal/verifier"
)

// LoggerService is the container name of the application logger.
const LoggerService = "logger"

// Server hosts the demo application.
type Server struct {
	config    *config.Config
	captcha   *config.Captcha
	logger    logging.Logger
	container *di.ServiceContainer
	registry  *prometheus.Registry
	health    *monitoring.HealthMonitor
	limiter   *middleware.RateLimiter
	verifier  *verifier.Verifier
	validator *validation.Validator
	errs      *cerrors.ErrorHandler

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	client verifier.Doer
	tracer trace.TracerProvider
}

// WithHTTPClient sets the client used for siteverify calls.
func WithHTTPClient(client verifier.Doer) Option {
	return func(o *serverOptions) {
		o.client = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serverOptions) {
		o.tracer = tp
	}
}

// New builds the server and boots its service container.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) (*Server, error) {
	var so serverOptions
	for _, opt := range opts {
		opt(&so)
	}

	captcha, err := cfg.NewCaptcha()
	if err != nil {
		return nil, fmt.Errorf("captcha config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	providerOpts := []provider.Option{
		provider.WithLogger(logger),
		provider.WithRegisterer(registry),
	}
	if so.client != nil {
		providerOpts = append(providerOpts, provider.WithHTTPClient(so.client))
	}
	if so.tracer != nil {
		providerOpts = append(providerOpts, provider.WithTracerProvider(so.tracer))
	}

	container := di.NewServiceContainer()
	container.RegisterInstance(LoggerService, logger)
	if err := container.RegisterProvider(provider.New(captcha, providerOpts...)); err != nil {
		return nil, err
	}
	if err := container.Boot(); err != nil {
		return nil, err
	}
	if err := container.Validate(); err != nil {
		return nil, err
	}

	ver, err := provider.Verifier(container)
	if err != nil {
		return nil, err
	}
	val, err := provider.Validator(container)
	if err != nil {
		return nil, err
	}

	health := monitoring.NewHealthMonitor(logger, captcha.Options().TimeoutDuration())
	health.RegisterCheck(monitoring.CaptchaKeysChecker(captcha))
	health.RegisterCheck(monitoring.CaptchaOptionsChecker(captcha))
	health.RegisterCheck(monitoring.GoroutineHealthChecker())

	s := &Server{
		config:    cfg,
		captcha:   captcha,
		logger:    logger.WithComponent("server"),
		errs:      cerrors.NewErrorHandler(logger.WithComponent("server")),
		container: container,
		registry:  registry,
		health:    health,
		verifier:  ver,
		validator: val,
	}

	if rl := cfg.Server.RateLimit; rl.Enabled {
		s.limiter = middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}, ver.ClientIP, logger)
	}

	return s, nil
}

// Container exposes the service container, mostly for tests and embedding.
func (s *Server) Container() *di.ServiceContainer {
	return s.container
}

// Registry returns the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	protect := func(h http.Handler) http.Handler {
		if s.limiter != nil {
			return s.limiter.Middleware()(h)
		}
		return h
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("POST /submit", protect(http.HandlerFunc(s.handleSubmit)))
	mux.Handle("POST /api/submit", protect(
		middleware.RequireCaptcha(s.verifier, s.logger)(http.HandlerFunc(s.handleAPISubmit))))
	mux.Handle("GET /healthz", s.health.HTTPHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	return middleware.NewMiddlewareChain(
		middleware.RequestID(),
		middleware.Logging(s.logger),
		middleware.CSPNonce(middleware.CSPConfigFor(s.captcha.Options()), s.logger),
		middleware.Renderer(s.newRenderer, s.logger),
	).Apply(mux)
}

func (s *Server) newRenderer(*http.Request) (*renderer.Renderer, error) {
	return provider.Renderer(s.container)
}

// Start listens on the configured address and serves until ctx is done or
// the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln. Cancelling ctx triggers a graceful shutdown bounded
// by ten seconds.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "serving", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		err := s.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Server.Addr()
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down")

		if s.limiter != nil {
			s.limiter.Stop()
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}

		if err := s.container.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	})

	return shutdownErr
}
