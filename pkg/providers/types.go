package providers

import (
	"time"

	"mercator-hq/conduit/pkg/processing/costs"
)

// Kind distinguishes the on-device engine from hosted APIs.
type Kind string

const (
	// KindLocal is an inference engine on this machine. It needs no credential.
	KindLocal Kind = "local"

	// KindExternal is a hosted API reached over the network with an API key.
	KindExternal Kind = "external"
)

// Capability is something a provider or model can do.
type Capability string

const (
	CapTextGeneration  Capability = "text-generation"
	CapConversation    Capability = "conversation"
	CapSummarization   Capability = "summarization"
	CapCodeGeneration  Capability = "code-generation"
	CapImage           Capability = "image"
	CapFunctionCalling Capability = "function-calling"
)

// DefaultCapabilities are advertised by every chat-style backend.
var DefaultCapabilities = []Capability{CapTextGeneration, CapConversation, CapSummarization, CapCodeGeneration}

// ModelDescriptor describes one model in a provider's catalog. Descriptors
// are immutable; catalogs are replaced wholesale on initialization.
type ModelDescriptor struct {
	// ID is the identifier sent on the wire (e.g., "gpt-4o-mini").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextWindowTokens is the model's context length, 0 if unknown.
	ContextWindowTokens int `json:"contextWindowTokens,omitempty"`

	// Pricing is nil when the backend does not publish prices.
	Pricing *costs.Pricing `json:"pricing,omitempty"`

	// Capabilities lists what the model supports.
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// HasCapability reports whether the model advertises c.
func (m ModelDescriptor) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Descriptor is the registry-facing description of a provider.
type Descriptor struct {
	ID            string            `json:"id"`
	DisplayName   string            `json:"displayName"`
	Kind          Kind              `json:"kind"`
	Capabilities  []Capability      `json:"capabilities"`
	Models        []ModelDescriptor `json:"models"`
	SelectedModel string            `json:"selectedModel,omitempty"`
	Ready         bool              `json:"ready"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn sent to a backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// PageContext is text extracted from whatever the user is looking at.
type PageContext struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	Text  string `json:"text"`
}

// Empty reports whether the context carries no text.
func (c *PageContext) Empty() bool {
	return c == nil || c.Text == ""
}

// GenerateRequest is a conversational request.
type GenerateRequest struct {
	// Query is the user's new message. Required.
	Query string

	// Context is optional page context attached to the query.
	Context *PageContext

	// History is the prior conversation, oldest first. Providers send only
	// the most recent HistoryWindow entries.
	History []Message

	// Model overrides the provider's selected model.
	Model string

	// SystemPrompt overrides the provider's configured system prompt.
	SystemPrompt string

	// Raw sends Query verbatim, without system prompt, context or history.
	Raw bool
}

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
	CachedTokens     int `json:"cachedTokens,omitempty"`

	// Estimated is true when the counts come from the character heuristic
	// rather than the backend.
	Estimated bool `json:"estimated,omitempty"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Usage            TokenUsage    `json:"usage"`
	EstimatedCostUSD *float64      `json:"estimatedCostUSD,omitempty"`
	ContextIncluded  bool          `json:"contextIncluded"`
	FinishReason     string        `json:"finishReason,omitempty"`
	Streamed         bool          `json:"streamed,omitempty"`
	Latency          time.Duration `json:"latency"`
}

// Response is a complete, non-streamed answer.
type Response struct {
	Text           string
	TokenCount     int
	ProcessingTime time.Duration
	Metadata       ResponseMetadata
}

// StreamChunk is one element of a streaming response. A chunk carries either
// text (Delta), a terminal error (Error), or the final metadata (Done).
type StreamChunk struct {
	// Delta is the incremental text.
	Delta string

	// Done marks the final chunk. Metadata is set on it.
	Done bool

	// Metadata summarizes the stream once it completes.
	Metadata *ResponseMetadata

	// Error terminates the stream.
	Error error
}

// Stats are per-provider counters since initialization.
type Stats struct {
	Requests         int64     `json:"requests"`
	Failures         int64     `json:"failures"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	CostUSD          float64   `json:"costUSD"`
	LastRequest      time.Time `json:"lastRequest,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
}
