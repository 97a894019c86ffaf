package providers

import (
	"strings"
	"time"

	"mercator-hq/conduit/pkg/processing/costs"
)

// Settings are the per-backend options shared by all adapters.
type Settings struct {
	ID          string
	DisplayName string

	// BaseURL overrides the adapter's default endpoint.
	BaseURL string

	DefaultModel  string
	SystemPrompt  string
	HistoryWindow int

	// MaxTokens caps completion length. Zero uses the backend default.
	MaxTokens int

	// Temperature is omitted from requests when nil.
	Temperature *float64

	// Headers are added to every request.
	Headers map[string]string

	// RequiresKey overrides the adapter's default credential requirement.
	RequiresKey *bool
}

// BaseURLOr returns BaseURL without a trailing slash, or def when unset.
func (s Settings) BaseURLOr(def string) string {
	if s.BaseURL == "" {
		return def
	}
	return strings.TrimRight(s.BaseURL, "/")
}

// RequiresKeyOr returns RequiresKey, or def when unset.
func (s Settings) RequiresKeyOr(def bool) bool {
	if s.RequiresKey == nil {
		return def
	}
	return *s.RequiresKey
}

// CoreConfig builds the Core configuration for an adapter.
func (s Settings) CoreConfig(kind Kind, requiresKey bool, defaultModel string) CoreConfig {
	model := s.DefaultModel
	if model == "" {
		model = defaultModel
	}
	return CoreConfig{
		ID:            s.ID,
		DisplayName:   s.DisplayName,
		Kind:          kind,
		RequiresKey:   s.RequiresKeyOr(requiresKey),
		DefaultModel:  model,
		SystemPrompt:  s.SystemPrompt,
		HistoryWindow: s.HistoryWindow,
	}
}

// MergeHeaders returns base with the configured headers applied on top.
func (s Settings) MergeHeaders(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(s.Headers))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range s.Headers {
		out[k] = v
	}
	return out
}

// PriceTable maps model id prefixes to published prices.
type PriceTable map[string]costs.Pricing

// Lookup returns the price for the longest prefix of model, or nil.
func (t PriceTable) Lookup(model string) *costs.Pricing {
	best := ""
	for prefix := range t {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	p := t[best]
	return &p
}

// Since returns the elapsed time since start. Adapters use it for logging.
func Since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
