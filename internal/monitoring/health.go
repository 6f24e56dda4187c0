// Package monitoring reports the health of the captcha integration.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/invisible-recaptcha/internal/config"
	"github.com/conneroisu/invisible-recaptcha/internal/logging"
	"github.com/conneroisu/invisible-recaptcha/internal/version"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
	IsCritical() bool
}

// HealthCheckFunc is a function that implements HealthChecker
type HealthCheckFunc struct {
	name     string
	checkFn  func(ctx context.Context) HealthCheck
	critical bool
}

// Check executes the health check function. Name and Critical are filled
// in from the registration so check functions only report the outcome.
func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	result := h.checkFn(ctx)
	result.Name = h.name
	result.Critical = h.critical
	return result
}

// Name returns the health check name
func (h *HealthCheckFunc) Name() string {
	return h.name
}

// IsCritical returns whether this check is critical
func (h *HealthCheckFunc) IsCritical() bool {
	return h.critical
}

// NewHealthCheckFunc creates a new health check function
func NewHealthCheckFunc(
	name string,
	critical bool,
	checkFn func(ctx context.Context) HealthCheck,
) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:     name,
		checkFn:  checkFn,
		critical: critical,
	}
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	checks  map[string]HealthChecker
	mutex   sync.RWMutex
	logger  logging.Logger
	timeout time.Duration
	started time.Time
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
	System    SystemInfo             `json:"system"`
}

// HealthSummary provides a summary of health check results
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Unknown   int `json:"unknown"`
	Critical  int `json:"critical"`
}

// SystemInfo provides system information
type SystemInfo struct {
	Hostname   string `json:"hostname"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
	PID        int    `json:"pid"`
	Goroutines int    `json:"goroutines"`
}

// NewHealthMonitor creates a monitor whose checks each get timeout to
// finish.
func NewHealthMonitor(logger logging.Logger, timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		checks:  make(map[string]HealthChecker),
		logger:  logger.WithComponent("health"),
		timeout: timeout,
		started: time.Now(),
	}
}

// RegisterCheck registers a health check, replacing one with the same name.
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.checks[checker.Name()] = checker
}

// UnregisterCheck removes a health check
func (hm *HealthMonitor) UnregisterCheck(name string) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	delete(hm.checks, name)
}

// Checks returns the registered check names, sorted.
func (hm *HealthMonitor) Checks() []string {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks executes all registered checks concurrently.
func (hm *HealthMonitor) RunChecks(ctx context.Context) map[string]HealthCheck {
	hm.mutex.RLock()
	checks := make([]HealthChecker, 0, len(hm.checks))
	for _, checker := range hm.checks {
		checks = append(checks, checker)
	}
	hm.mutex.RUnlock()

	var wg sync.WaitGroup
	resultsChan := make(chan HealthCheck, len(checks))

	for _, checker := range checks {
		wg.Add(1)
		go func(checker HealthChecker) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()

			start := time.Now()
			result := checker.Check(ctx)
			result.Duration = time.Since(start)
			result.LastChecked = time.Now()

			resultsChan <- result
		}(checker)
	}

	wg.Wait()
	close(resultsChan)

	results := make(map[string]HealthCheck, len(checks))
	for result := range resultsChan {
		results[result.Name] = result

		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name,
				"status", string(result.Status),
				"message", result.Message,
				"duration", result.Duration)
		}
	}
	return results
}

// GetHealth runs the checks and summarises them.
func (hm *HealthMonitor) GetHealth(ctx context.Context) HealthResponse {
	checks := hm.RunChecks(ctx)

	return HealthResponse{
		Status:    calculateOverallStatus(checks),
		Timestamp: time.Now(),
		Version:   version.GetShortVersion(),
		Uptime:    time.Since(hm.started).Round(time.Second).String(),
		Checks:    checks,
		Summary:   calculateSummary(checks),
		System:    getSystemInfo(),
	}
}

// calculateSummary calculates health check summary
func calculateSummary(checks map[string]HealthCheck) HealthSummary {
	summary := HealthSummary{
		Total: len(checks),
	}

	for _, check := range checks {
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusUnhealthy:
			summary.Unhealthy++
		case HealthStatusDegraded:
			summary.Degraded++
		default:
			summary.Unknown++
		}

		if check.Critical {
			summary.Critical++
		}
	}

	return summary
}

// calculateOverallStatus determines the overall health status
func calculateOverallStatus(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy

	for _, check := range checks {
		switch {
		case check.Critical && check.Status == HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded, check.Status == HealthStatusUnhealthy:
			status = HealthStatusDegraded
		}
	}

	return status
}

// HTTPHandler serves the health report as JSON: 200 when healthy or
// degraded, 503 when a critical check fails.
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}

// Predefined health checks

// CaptchaKeysChecker reports degraded when a key is missing: pages still
// render but every verification will fail.
func CaptchaKeysChecker(cfg *config.Captcha) HealthChecker {
	return NewHealthCheckFunc("captcha_keys", false, func(context.Context) HealthCheck {
		var missing []string
		if cfg.SiteKey() == "" {
			missing = append(missing, "site_key")
		}
		if cfg.SecretKey() == "" {
			missing = append(missing, "secret_key")
		}

		if len(missing) > 0 {
			return HealthCheck{
				Status:   HealthStatusDegraded,
				Message:  fmt.Sprintf("missing captcha keys: %v", missing),
				Metadata: map[string]interface{}{"missing": missing},
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "captcha keys configured"}
	})
}

// CaptchaOptionsChecker reports the effective options and fails when they
// do not validate.
func CaptchaOptionsChecker(cfg *config.Captcha) HealthChecker {
	return NewHealthCheckFunc("captcha_options", true, func(context.Context) HealthCheck {
		opts := cfg.Options()
		if err := opts.Validate(); err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
		return HealthCheck{
			Status: HealthStatusHealthy,
			Metadata: map[string]interface{}{
				"fail_open": opts.FailOpen,
				"lazy_load": opts.LazyLoad,
				"timeout":   opts.Timeout,
			},
		}
	})
}

// GoroutineHealthChecker checks for goroutine leaks
func GoroutineHealthChecker() HealthChecker {
	return NewHealthCheckFunc("goroutines", false, func(context.Context) HealthCheck {
		goroutines := runtime.NumGoroutine()

		status := HealthStatusHealthy
		message := "Goroutine count is normal"

		if goroutines > 1000 {
			status = HealthStatusDegraded
			message = fmt.Sprintf("High goroutine count: %d", goroutines)
		}

		if goroutines > 10000 {
			status = HealthStatusUnhealthy
			message = fmt.Sprintf("Very high goroutine count: %d", goroutines)
		}

		return HealthCheck{
			Status:   status,
			Message:  message,
			Metadata: map[string]interface{}{"count": goroutines},
		}
	})
}

func getSystemInfo() SystemInfo {
	hostname, _ := os.Hostname()

	return SystemInfo{
		Hostname:   hostname,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:  runtime.Version(),
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
	}
}
