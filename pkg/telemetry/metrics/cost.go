package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conduit/pkg/config"
)

// CostMetrics tracks token usage, spend and budget alerts.
//
// Metrics:
//   - tokens_total{provider,model,type}: prompt and completion tokens
//   - cost_usd_total{provider,model}: estimated spend
//   - cost_per_request_usd{provider}: spend distribution
//   - budget_alerts_total{provider,period,blocked}
type CostMetrics struct {
	tokens         *prometheus.CounterVec
	costTotal      *prometheus.CounterVec
	costPerRequest *prometheus.HistogramVec
	budgetAlerts   *prometheus.CounterVec
}

// NewCostMetrics creates and registers cost metrics.
func NewCostMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CostMetrics {
	cm := &CostMetrics{
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tokens_total",
				Help:      "Tokens by provider, model and type",
			},
			[]string{"provider", "model", "type"},
		),
		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cost_usd_total",
				Help:      "Estimated spend in USD by provider and model",
			},
			[]string{"provider", "model"},
		),
		costPerRequest: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cost_per_request_usd",
				Help:      "Estimated spend per request in USD",
				// $0.0001 to $5
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"provider"},
		),
		budgetAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "budget_alerts_total",
				Help:      "Budget alerts by provider, period and whether the request was blocked",
			},
			[]string{"provider", "period", "blocked"},
		),
	}

	registry.MustRegister(cm.tokens, cm.costTotal, cm.costPerRequest, cm.budgetAlerts)
	return cm
}

// RecordTokens adds prompt and completion token counts.
func (cm *CostMetrics) RecordTokens(provider, model string, prompt, completion int) {
	if prompt > 0 {
		cm.tokens.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		cm.tokens.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

// RecordCost records the cost of a single request. Non-positive costs are
// ignored.
func (cm *CostMetrics) RecordCost(provider, model string, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	cm.costTotal.WithLabelValues(provider, model).Add(costUSD)
	cm.costPerRequest.WithLabelValues(provider).Observe(costUSD)
}

// RecordBudgetAlert counts a budget alert.
func (cm *CostMetrics) RecordBudgetAlert(provider, period string, blocked bool) {
	cm.budgetAlerts.WithLabelValues(provider, period, strconv.FormatBool(blocked)).Inc()
}
