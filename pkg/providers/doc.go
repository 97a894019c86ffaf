// Package providers defines the uniform contract for AI backends and the
// resilience machinery every adapter shares.
//
// # Overview
//
// A Provider is one interchangeable backend: the local inference engine or a
// hosted HTTP API. Callers generate a response, stream one, send a raw
// prompt or summarize a conversation without knowing which backend answers.
// Adapters live in subpackages (openai, anthropic, gemini, generic, ollama);
// this package holds what they have in common.
//
// # Architecture
//
//  1. Provider - the interface every adapter implements
//  2. Executor - sends HTTP requests through the rate limiter, circuit
//     breaker and retry loop
//  3. Core - per-adapter state: credential, model catalog, selection,
//     usage estimation, cost and outcome reporting
//  4. SSEReader, NDJSONReader and Core.Pump - turn a streamed body into a
//     channel of StreamChunk values
//
// # Basic Usage
//
//	breaker := circuit.New(circuit.Config{})
//	pacer := ratelimit.NewPacer(time.Second)
//	exec := providers.NewExecutor(providers.ExecutorConfig{Provider: "openai"}, breaker, pacer)
//
//	p := openai.New(providers.Settings{ID: "openai"}, exec,
//	    providers.WithCredentials(store))
//	if err := p.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := p.GenerateResponse(ctx, &providers.GenerateRequest{Query: "Hello"})
//
// # Retries
//
// The Executor makes at most five attempts. 429, 500, 502, 503, 504 and
// network errors are retried with exponential backoff plus jitter; a
// Retry-After header replaces the computed delay, clamped to the backoff
// bounds. 401 fails immediately with AuthError and is never counted against
// the circuit. Any other status fails immediately with ProviderError. One
// logical operation records at most one circuit failure no matter how many
// attempts it made.
//
// # Streaming
//
//	chunks, err := p.GenerateStreamingResponse(ctx, req)
//	if err != nil {
//	    return err
//	}
//	for chunk := range chunks {
//	    if chunk.Error != nil {
//	        return chunk.Error
//	    }
//	    fmt.Print(chunk.Delta)
//	}
//
// The channel closes after a Done chunk carrying ResponseMetadata, after an
// error chunk, or silently when ctx is cancelled. Cancelling ctx closes the
// underlying connection.
//
// # Error Handling
//
// Errors are typed: AuthError, MissingAPIKeyError, RateLimitError,
// ProviderError, NetworkError, ParseError, StreamError, CircuitOpenError,
// ModelNotFoundError, ConfigError and ValidationError. Classify maps any
// error to an ErrorClass; errors from other packages join a class by
// implementing Classifier.
//
// # Thread Safety
//
// Providers, the Executor and Core are safe for concurrent use.
package providers
