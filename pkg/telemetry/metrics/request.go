package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conduit/pkg/config"
)

// attemptBuckets cover single HTTP attempts from 50ms to 2 minutes.
var attemptBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// RequestMetrics tracks individual HTTP attempts made by executors.
//
// Metrics:
//   - attempts_total{provider,status}: attempts by status class
//   - attempt_duration_seconds{provider}: attempt latency
//   - retries_total{provider}: retries scheduled
type RequestMetrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
}

// NewRequestMetrics creates and registers attempt metrics.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "attempts_total",
				Help:      "HTTP attempts by provider and status class",
			},
			[]string{"provider", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "attempt_duration_seconds",
				Help:      "HTTP attempt latency in seconds",
				Buckets:   attemptBuckets,
			},
			[]string{"provider"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "retries_total",
				Help:      "Retries scheduled after a transient failure",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(rm.attempts, rm.duration, rm.retries)
	return rm
}

// RecordAttempt records one HTTP attempt.
func (rm *RequestMetrics) RecordAttempt(provider, status string, latency time.Duration) {
	rm.attempts.WithLabelValues(provider, status).Inc()
	rm.duration.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordRetry records a scheduled retry.
func (rm *RequestMetrics) RecordRetry(provider string) {
	rm.retries.WithLabelValues(provider).Inc()
}
