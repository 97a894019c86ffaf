// Package generic adapts any OpenAI-compatible chat completions server:
// LM Studio, vLLM, llama.cpp server, LiteLLM and hosted gateways.
//
// The base URL must include the API version prefix (for example
// http://localhost:1234/v1). An API key is optional unless the
// configuration requires one. Servers without a /models endpoint are
// served a one-entry catalog made from the configured default model.
//
// Catalog entries carry no pricing; configure cost overrides to price a
// gateway's models, otherwise the flat per-token fallback applies.
package generic
