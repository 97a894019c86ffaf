package generic

import (
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/providers/openai"
)

// Dialect is the OpenAI-compatible dialect used by generic servers.
var Dialect = openai.Dialect{
	Type:           "generic",
	RequiresKey:    false,
	StreamUsage:    false,
	StaticFallback: true,
}

// Provider is a generic OpenAI-compatible provider adapter.
type Provider struct {
	*openai.Provider
}

// New creates a generic provider. settings.BaseURL is required.
func New(settings providers.Settings, exec *providers.Executor, opts ...providers.CoreOption) *Provider {
	return &Provider{Provider: openai.NewWithDialect(settings, Dialect, exec, opts...)}
}

var _ providers.Provider = (*Provider)(nil)
