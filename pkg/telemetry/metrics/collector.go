package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/limits/budget"
	"mercator-hq/conduit/pkg/providers"
)

// maxModelLabels bounds the distinct provider/model label pairs.
const maxModelLabels = 1000

// Collector owns the registry and every metric of the process.
// It is safe for concurrent use.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requests *RequestMetrics
	provider *ProviderMetrics
	costs    *CostMetrics

	cardinalityLimiter *CardinalityLimiter

	mu     sync.Mutex
	routes map[string]http.Handler
}

// NewCollector creates a collector. A nil registry creates a private one.
//
// Example:
//
//	cfg := &config.MetricsConfig{Namespace: "conduit", Subsystem: "providers"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		requests:           NewRequestMetrics(cfg, registry),
		provider:           NewProviderMetrics(cfg, registry),
		costs:              NewCostMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(maxModelLabels),
	}
}

// ObserveAttempt implements providers.RequestObserver.
func (c *Collector) ObserveAttempt(provider string, status int, err error, latency time.Duration) {
	c.requests.RecordAttempt(provider, statusClass(status, err), latency)
}

// ObserveRetry implements providers.RequestObserver.
func (c *Collector) ObserveRetry(provider string, _ int, _ time.Duration) {
	c.requests.RecordRetry(provider)
}

// ObserveOutcome implements providers.OutcomeObserver.
func (c *Collector) ObserveOutcome(_ context.Context, o providers.Outcome) {
	model := c.model(o.Provider, o.Model)

	result := "success"
	if !o.Success {
		result = "error"
		if providers.Classify(o.Err) == providers.ClassCancelled {
			result = "cancelled"
		} else {
			c.provider.RecordError(o.Provider, string(providers.Classify(o.Err)))
		}
	}
	mode := "sync"
	if o.Streamed {
		mode = "stream"
	}
	c.provider.RecordRequest(o.Provider, model, result, mode, o.Latency)

	if o.Success {
		c.costs.RecordTokens(o.Provider, model, o.Usage.PromptTokens, o.Usage.CompletionTokens)
		if o.CostUSD != nil {
			c.costs.RecordCost(o.Provider, model, *o.CostUSD)
		}
	}
}

// CircuitChanged matches circuit.Listener.
func (c *Collector) CircuitChanged(provider string, open bool) {
	c.provider.SetCircuitOpen(provider, open)
}

// AlertBudget matches budget.Alerter and counts budget alerts.
func (c *Collector) AlertBudget(_ context.Context, a budget.Alert) error {
	c.costs.RecordBudgetAlert(a.Provider, string(a.Period), a.Blocked)
	return nil
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) model(provider, model string) string {
	if model == "" {
		return "unknown"
	}
	if !c.cardinalityLimiter.Allow(provider + ":" + model) {
		return "other"
	}
	return model
}

// statusClass buckets an attempt result for labels.
func statusClass(status int, err error) string {
	switch {
	case status == 0 && err != nil:
		if providers.Classify(err) == providers.ClassCancelled {
			return "cancelled"
		}
		return "transport_error"
	case status == 0:
		return "unknown"
	default:
		return fmt.Sprintf("%dxx", status/100)
	}
}

var (
	_ providers.RequestObserver = (*Collector)(nil)
	_ providers.OutcomeObserver = (*Collector)(nil)
)

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is already tracked or still fits under
// the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
