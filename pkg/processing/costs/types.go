package costs

// Pricing is the price of a model in USD per one million tokens.
type Pricing struct {
	// InputPerMillion is the price of one million prompt tokens.
	InputPerMillion float64 `json:"inputPerMillion"`

	// OutputPerMillion is the price of one million completion tokens.
	OutputPerMillion float64 `json:"outputPerMillion"`

	// CachedInputPerMillion is the price of one million cached prompt
	// tokens. Zero means cached tokens are billed as regular input.
	CachedInputPerMillion float64 `json:"cachedInputPerMillion,omitempty"`
}

// Source identifies where the pricing for an estimate came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceCatalog  Source = "catalog"
	SourceFlat     Source = "flat"
)

// TokenUsage contains token counts for one request.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the prompt, including cached.
	PromptTokens int

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int

	// CachedTokens is the portion of PromptTokens served from cache.
	CachedTokens int
}

// CostEstimate contains cost calculations in USD.
type CostEstimate struct {
	// PromptCost is the cost for prompt tokens in USD.
	PromptCost float64

	// CompletionCost is the cost for completion tokens in USD.
	CompletionCost float64

	// TotalCost is the total cost in USD.
	TotalCost float64

	// Model is the model used for pricing.
	Model string

	// Provider is the provider id.
	Provider string

	// Source identifies the pricing that was applied.
	Source Source
}
