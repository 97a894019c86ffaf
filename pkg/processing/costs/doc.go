// Package costs provides cost calculation for provider requests and responses.
//
// Costs are computed from token usage and per-model pricing expressed in USD
// per one million tokens:
//
//   - Input (prompt) tokens
//   - Output (completion) tokens
//   - Cached input tokens, billed at their own rate where the backend
//     reports them
//
// # Pricing Resolution
//
// For a provider and model, pricing is resolved in order:
//
//  1. Configuration override (exact model id, then "prefix*" patterns)
//  2. The model catalog's pricing, supplied by the caller
//  3. A flat per-token fallback rate applied to all tokens
//
// # Usage
//
//	calc := costs.NewCalculator(&cfg.Costs)
//	est := calc.Calculate("openai", "gpt-4o", model.Pricing, costs.TokenUsage{
//	    PromptTokens: 1200, CompletionTokens: 300,
//	})
//	fmt.Printf("$%.6f (%s)\n", est.TotalCost, est.Source)
//
// # Thread Safety
//
// Calculator is safe for concurrent use. UpdatePricing swaps the
// configuration atomically for hot reload.
package costs
