// Package ollama implements the adapter for a local Ollama engine.
//
// The engine runs on this machine, needs no credential and charges nothing.
// Chat goes to /api/chat and streams newline-delimited JSON; the catalog
// comes from /api/tags. ResetConversation unloads the model with
// keep_alive 0 so no cached attention state carries into the next
// conversation.
package ollama
