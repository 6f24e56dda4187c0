// Package metrics provides Prometheus instrumentation for widget rendering
// and token verification.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace is the Prometheus namespace for all metrics
	Namespace = "recaptcha"

	LabelOutcome = "outcome"
)

// Verification outcomes.
const (
	OutcomePass     = "pass"
	OutcomeFail     = "fail"
	OutcomeEmpty    = "empty"
	OutcomeFailOpen = "fail_open"
	OutcomeError    = "error"
)

// Collector owns the metric vectors. A nil *Collector is valid and records
// nothing.
type Collector struct {
	verifications   *prometheus.CounterVec
	duration        prometheus.Histogram
	widgetsRendered prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what most tests want.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "verifications_total",
				Help:      "Total number of token verifications by outcome",
			},
			[]string{LabelOutcome},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "verification_duration_seconds",
				Help:      "Duration of siteverify calls in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		widgetsRendered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "widgets_rendered_total",
				Help:      "Total number of widget placeholders rendered",
			},
		),
	}

	for _, outcome := range []string{OutcomePass, OutcomeFail, OutcomeEmpty, OutcomeFailOpen, OutcomeError} {
		c.verifications.WithLabelValues(outcome)
	}

	if reg != nil {
		reg.MustRegister(c.verifications, c.duration, c.widgetsRendered)
	}
	return c
}

// RecordVerification counts one verification. The duration is only
// observed when a siteverify call was made.
func (c *Collector) RecordVerification(outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(outcome).Inc()
	if outcome != OutcomeEmpty {
		c.duration.Observe(duration.Seconds())
	}
}

// WidgetRendered counts one placeholder.
func (c *Collector) WidgetRendered() {
	if c == nil {
		return
	}
	c.widgetsRendered.Inc()
}

// Verifications returns the counter vector, for tests and dashboards.
func (c *Collector) Verifications() *prometheus.CounterVec {
	return c.verifications
}

// WidgetsRendered returns the rendered-widget counter.
func (c *Collector) WidgetsRendered() prometheus.Counter {
	return c.widgetsRendered
}

// Duration returns the siteverify latency histogram.
func (c *Collector) Duration() prometheus.Histogram {
	return c.duration
}
