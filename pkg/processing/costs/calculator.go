package costs

import (
	"strings"
	"sync"

	"mercator-hq/conduit/pkg/config"
)

const tokensPerMillion = 1_000_000.0

// Calculator calculates costs from token usage and model pricing.
// It is thread-safe and supports hot-reload of pricing configuration.
type Calculator struct {
	config *config.CostsConfig
	mu     sync.RWMutex
}

// NewCalculator creates a new cost calculator. A nil configuration uses the
// default flat rate with no overrides.
func NewCalculator(cfg *config.CostsConfig) *Calculator {
	if cfg == nil {
		cfg = &config.CostsConfig{FallbackPerToken: config.DefaultFallbackPerToken}
	}
	return &Calculator{config: cfg}
}

// Calculate prices usage for provider/model. catalog is the model's own
// pricing and may be nil.
func (c *Calculator) Calculate(provider, model string, catalog *Pricing, usage TokenUsage) *CostEstimate {
	pricing, source, flat := c.resolve(provider, model, catalog)

	est := &CostEstimate{
		Model:    model,
		Provider: provider,
		Source:   source,
	}

	if pricing == nil {
		est.PromptCost = float64(usage.PromptTokens) * flat
		est.CompletionCost = float64(usage.CompletionTokens) * flat
		est.TotalCost = est.PromptCost + est.CompletionCost
		return est
	}

	if usage.CachedTokens > 0 && pricing.CachedInputPerMillion > 0 {
		uncached := usage.PromptTokens - usage.CachedTokens
		if uncached < 0 {
			uncached = 0
		}
		est.PromptCost = calculateTokenCost(uncached, pricing.InputPerMillion) +
			calculateTokenCost(usage.CachedTokens, pricing.CachedInputPerMillion)
	} else {
		est.PromptCost = calculateTokenCost(usage.PromptTokens, pricing.InputPerMillion)
	}
	est.CompletionCost = calculateTokenCost(usage.CompletionTokens, pricing.OutputPerMillion)
	est.TotalCost = est.PromptCost + est.CompletionCost
	return est
}

// EstimatePrompt prices promptTokens of input only. The budget preflight
// uses it before a request is sent.
func (c *Calculator) EstimatePrompt(provider, model string, catalog *Pricing, promptTokens int) float64 {
	return c.Calculate(provider, model, catalog, TokenUsage{PromptTokens: promptTokens}).TotalCost
}

// GetModelPricing returns the configured override for provider/model. It
// first tries an exact match, then the longest "prefix*" pattern.
func (c *Calculator) GetModelPricing(provider, model string) (*Pricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.override(provider, model)
}

// UpdatePricing updates the pricing configuration (hot-reload support).
// This is thread-safe and can be called while the calculator is in use.
func (c *Calculator) UpdatePricing(newConfig *config.CostsConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config = newConfig
}

func (c *Calculator) resolve(provider, model string, catalog *Pricing) (*Pricing, Source, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.override(provider, model); ok {
		return p, SourceOverride, 0
	}
	if catalog != nil {
		return catalog, SourceCatalog, 0
	}
	return nil, SourceFlat, c.config.FallbackPerToken
}

// override must be called with c.mu held.
func (c *Calculator) override(provider, model string) (*Pricing, bool) {
	models, ok := c.config.Pricing[provider]
	if !ok {
		return nil, false
	}
	if m, ok := models[model]; ok {
		return toPricing(m), true
	}

	bestLen := -1
	var best config.ModelPricingConfig
	for pattern, m := range models {
		prefix, isPrefix := strings.CutSuffix(pattern, "*")
		if !isPrefix || !strings.HasPrefix(model, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			bestLen = len(prefix)
			best = m
		}
	}
	if bestLen < 0 {
		return nil, false
	}
	return toPricing(best), true
}

func toPricing(m config.ModelPricingConfig) *Pricing {
	return &Pricing{
		InputPerMillion:       m.Input,
		OutputPerMillion:      m.Output,
		CachedInputPerMillion: m.CachedInput,
	}
}

// calculateTokenCost calculates the cost for a given number of tokens.
func calculateTokenCost(tokens int, costPerMillion float64) float64 {
	return float64(tokens) / tokensPerMillion * costPerMillion
}
