package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conduit/pkg/config"
)

// requestBuckets are optimized for LLM request latencies (100ms - 2m).
var requestBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

// ProviderMetrics tracks logical requests and provider health.
//
// Metrics:
//   - requests_total{provider,model,result,mode}
//   - request_duration_seconds{provider,model}
//   - errors_total{provider,class}: failures by error class
//   - circuit_open{provider}: 1 while the circuit is open
type ProviderMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	circuit  *prometheus.GaugeVec
}

// NewProviderMetrics creates and registers provider metrics.
func NewProviderMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ProviderMetrics {
	pm := &ProviderMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "requests_total",
				Help:      "Requests by provider, model, result and mode",
			},
			[]string{"provider", "model", "result", "mode"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request latency including retries, in seconds",
				Buckets:   requestBuckets,
			},
			[]string{"provider", "model"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "errors_total",
				Help:      "Failed requests by error class",
			},
			[]string{"provider", "class"},
		),
		circuit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "circuit_open",
				Help:      "Circuit breaker state (1=open, 0=closed)",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(pm.requests, pm.duration, pm.errors, pm.circuit)
	return pm
}

// RecordRequest records a completed logical request.
func (pm *ProviderMetrics) RecordRequest(provider, model, result, mode string, latency time.Duration) {
	pm.requests.WithLabelValues(provider, model, result, mode).Inc()
	if latency > 0 {
		pm.duration.WithLabelValues(provider, model).Observe(latency.Seconds())
	}
}

// RecordError records a failure of class.
func (pm *ProviderMetrics) RecordError(provider, class string) {
	pm.errors.WithLabelValues(provider, class).Inc()
}

// SetCircuitOpen updates the circuit gauge.
func (pm *ProviderMetrics) SetCircuitOpen(provider string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	pm.circuit.WithLabelValues(provider).Set(value)
}
