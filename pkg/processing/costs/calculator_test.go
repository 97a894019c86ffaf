package costs

import (
	"math"
	"testing"

	"mercator-hq/conduit/pkg/config"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func testCalculator() *Calculator {
	return NewCalculator(&config.CostsConfig{
		FallbackPerToken: 0.000002,
		Pricing: map[string]map[string]config.ModelPricingConfig{
			"openai": {
				"gpt-4o":      {Input: 2.50, Output: 10.00, CachedInput: 1.25},
				"gpt-4*":      {Input: 30.00, Output: 60.00},
				"gpt-4o-mini": {Input: 0.15, Output: 0.60},
				"o*":          {Input: 1.00, Output: 4.00},
			},
		},
	})
}

func TestCalculator_Calculate(t *testing.T) {
	calc := testCalculator()
	catalog := &Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}

	tests := []struct {
		name       string
		provider   string
		model      string
		catalog    *Pricing
		usage      TokenUsage
		wantTotal  float64
		wantSource Source
	}{
		{
			name:       "exact override",
			provider:   "openai",
			model:      "gpt-4o",
			usage:      TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 100_000},
			wantTotal:  2.50 + 1.00,
			wantSource: SourceOverride,
		},
		{
			name:       "cached tokens use cached rate",
			provider:   "openai",
			model:      "gpt-4o",
			usage:      TokenUsage{PromptTokens: 1_000_000, CachedTokens: 500_000},
			wantTotal:  1.25 + 0.625,
			wantSource: SourceOverride,
		},
		{
			name:       "longest prefix wins",
			provider:   "openai",
			model:      "gpt-4-turbo",
			usage:      TokenUsage{PromptTokens: 1000, CompletionTokens: 1000},
			wantTotal:  0.03 + 0.06,
			wantSource: SourceOverride,
		},
		{
			name:       "catalog pricing",
			provider:   "anthropic",
			model:      "claude-sonnet-4",
			catalog:    catalog,
			usage:      TokenUsage{PromptTokens: 2000, CompletionTokens: 1000},
			wantTotal:  0.006 + 0.015,
			wantSource: SourceCatalog,
		},
		{
			name:       "flat fallback",
			provider:   "local",
			model:      "llama3.2",
			usage:      TokenUsage{PromptTokens: 400, CompletionTokens: 100},
			wantTotal:  500 * 0.000002,
			wantSource: SourceFlat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.provider, tt.model, tt.catalog, tt.usage)
			if !almostEqual(got.TotalCost, tt.wantTotal) {
				t.Errorf("TotalCost = %v, want %v", got.TotalCost, tt.wantTotal)
			}
			if got.Source != tt.wantSource {
				t.Errorf("Source = %v, want %v", got.Source, tt.wantSource)
			}
			if !almostEqual(got.PromptCost+got.CompletionCost, got.TotalCost) {
				t.Errorf("prompt + completion != total")
			}
		})
	}
}

func TestCalculator_EstimatePrompt(t *testing.T) {
	calc := testCalculator()

	got := calc.EstimatePrompt("openai", "gpt-4o-mini", nil, 1_000_000)
	if !almostEqual(got, 0.15) {
		t.Errorf("EstimatePrompt = %v, want 0.15", got)
	}
}

func TestCalculator_UpdatePricing(t *testing.T) {
	calc := testCalculator()

	calc.UpdatePricing(&config.CostsConfig{FallbackPerToken: 0.00001})
	if _, ok := calc.GetModelPricing("openai", "gpt-4o"); ok {
		t.Fatal("override should be gone after update")
	}
	got := calc.Calculate("openai", "gpt-4o", nil, TokenUsage{PromptTokens: 10})
	if !almostEqual(got.TotalCost, 0.0001) || got.Source != SourceFlat {
		t.Errorf("got %+v", got)
	}
}

func TestNewCalculator_NilConfig(t *testing.T) {
	calc := NewCalculator(nil)
	got := calc.Calculate("x", "y", nil, TokenUsage{PromptTokens: 1})
	if !almostEqual(got.TotalCost, config.DefaultFallbackPerToken) {
		t.Errorf("TotalCost = %v", got.TotalCost)
	}
}
