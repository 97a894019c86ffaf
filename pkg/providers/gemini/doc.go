// Package gemini implements the Google Gemini (Generative Language API)
// adapter.
//
// The key is sent in the x-goog-api-key header. Conversations are sent as
// "contents" with roles "user" and "model"; the system prompt and page
// context go in systemInstruction. Streaming uses
// streamGenerateContent?alt=sse, where every event is a complete
// GenerateContentResponse carrying the next text fragment and, on the last
// event, the usage metadata.
package gemini
