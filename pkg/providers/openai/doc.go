// Package openai implements the OpenAI provider adapter.
//
// The adapter speaks the chat completions API (/v1/chat/completions) and
// lists models from /v1/models. Streaming uses Server-Sent Events and asks
// the server to append a usage chunk so streamed answers are priced from
// reported token counts.
//
// The same wire format is served by many OpenAI-compatible gateways; the
// generic package reuses this adapter with a custom base URL.
//
// # Basic Usage
//
//	p := openai.New(providers.Settings{ID: "openai"}, exec,
//	    providers.WithCredentials(store))
//	if err := p.Initialize(ctx); err != nil {
//	    return err
//	}
//	resp, err := p.GenerateResponse(ctx, &providers.GenerateRequest{Query: "Hello!"})
//
// # Error Handling
//
// Status handling is done by the shared executor:
//
//   - 401 -> AuthError (never retried)
//   - 429 -> RateLimitError after retries
//   - 5xx -> ProviderError (retried automatically)
//   - other 4xx -> ProviderError
package openai
