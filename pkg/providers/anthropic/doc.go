// Package anthropic implements the Anthropic Messages API adapter.
//
// Requests go to /v1/messages with the x-api-key and anthropic-version
// headers. The system prompt and page context travel in the top-level
// "system" field; the conversation must alternate user and assistant turns
// and start with a user turn, so history is normalized before sending.
//
// Streams are Server-Sent Events with named events. Text arrives in
// content_block_delta events; input tokens are reported by message_start
// and output tokens by message_delta. An "error" event ends the stream
// with a ProviderError.
package anthropic
