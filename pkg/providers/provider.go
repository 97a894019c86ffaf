package providers

import "context"

// Provider is the core interface that all backend adapters implement.
// It provides a uniform contract over a locally hosted engine and hosted
// HTTP APIs (OpenAI, Anthropic, Gemini, OpenAI-compatible endpoints).
//
// All blocking methods accept a context.Context. Implementations return as
// soon as the context is cancelled; cancellation is reported as ctx.Err()
// and never counts as a backend failure.
//
// Example usage:
//
//	if err := p.Initialize(ctx); err != nil {
//	    return err
//	}
//	resp, err := p.GenerateResponse(ctx, &providers.GenerateRequest{Query: "Hello!"})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.Text)
type Provider interface {
	// Descriptor returns the provider's identity, catalog and selection.
	Descriptor() Descriptor

	// ID returns the stable provider id.
	ID() string

	// Kind reports whether the provider is local or external.
	Kind() Kind

	// Initialize resolves credentials and loads the model catalog. It is
	// idempotent: calling it on a ready provider is a no-op. It fails with
	// MissingAPIKeyError when an external provider has no credential.
	Initialize(ctx context.Context) error

	// IsReady reports whether Initialize has succeeded since the last Cleanup.
	IsReady() bool

	// Cleanup releases credentials and connections. The provider can be
	// initialized again afterwards.
	Cleanup()

	// ValidateConfiguration checks static configuration without I/O.
	ValidateConfiguration() error

	// Models returns the catalog loaded by Initialize.
	Models() []ModelDescriptor

	// SelectModel makes id the default model. It fails with
	// ModelNotFoundError when id is not in the catalog.
	SelectModel(id string) error

	// GenerateResponse sends a conversational request and waits for the
	// complete answer.
	GenerateResponse(ctx context.Context, req *GenerateRequest) (*Response, error)

	// GenerateStreamingResponse sends a conversational request and returns
	// a channel of chunks. Connection setup is retried like any request;
	// once the stream is open, failures arrive as a terminal chunk with
	// Error set. The channel is closed after the final chunk, or without
	// one when ctx is cancelled.
	GenerateStreamingResponse(ctx context.Context, req *GenerateRequest) (<-chan *StreamChunk, error)

	// GenerateRawResponse sends prompt verbatim, without system prompt,
	// history or context.
	GenerateRawResponse(ctx context.Context, prompt, model string) (string, error)

	// SummarizeConversation condenses messages into a short summary.
	SummarizeConversation(ctx context.Context, messages []Message, model string) (string, error)

	// ResetConversation clears any server-side conversational state.
	ResetConversation(ctx context.Context) error

	// Stats returns usage counters since initialization.
	Stats() Stats
}
