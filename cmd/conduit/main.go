// Conduit talks to local and hosted language models through one
// conversation interface.
//
// It keeps a registry of providers (a local Ollama server plus OpenAI,
// Anthropic, Gemini and any OpenAI-compatible endpoint), retries and
// paces requests, opens a circuit on providers that keep failing, records
// token usage and cost, and enforces per-provider spending budgets.
//
// Usage:
//
//	# Chat with the active provider
//	conduit chat
//
//	# Ask one question about a local file
//	conduit chat --file notes.md "summarize this"
//
//	# Store an API key and switch providers
//	conduit keys set openai
//	conduit providers switch openai
//
//	# Cap daily spend
//	conduit budget set openai --daily 2.50 --block
//
//	# Show what the last month cost
//	conduit usage summary --days 30
package main

func main() {
	Execute()
}
