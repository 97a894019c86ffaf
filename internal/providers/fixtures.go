package providers

import (
	"encoding/json"
)

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// OpenAIChatResponse is a chat completion body.
func OpenAIChatResponse(content, model string, promptTokens, completionTokens int) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-123",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

// OpenAIStreamChunk is one streamed chat completion delta.
func OpenAIStreamChunk(delta, finishReason string) string {
	choice := map[string]any{"index": 0, "delta": map[string]any{"content": delta}}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	}
	return mustJSON(map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{choice},
	})
}

// OpenAIUsageChunk is the trailing usage-only chunk.
func OpenAIUsageChunk(promptTokens, completionTokens int) string {
	return mustJSON(map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	})
}

// OpenAIModels is a /models listing.
func OpenAIModels(ids ...string) map[string]any {
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{"id": id, "object": "model", "owned_by": "test"})
	}
	return map[string]any{"object": "list", "data": data}
}

// AnthropicResponse is a Messages API body.
func AnthropicResponse(content, model string, inputTokens, outputTokens int) map[string]any {
	return map[string]any{
		"id":          "msg_123",
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     []map[string]any{{"type": "text", "text": content}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": inputTokens, "output_tokens": outputTokens},
	}
}

// AnthropicStream returns the event sequence for a streamed answer.
func AnthropicStream(model string, inputTokens, outputTokens int, deltas ...string) []string {
	events := []string{
		SSEEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "msg_123", "model": model,
				"usage": map[string]any{"input_tokens": inputTokens, "output_tokens": 1},
			},
		}),
		SSEEvent("content_block_start", map[string]any{
			"type": "content_block_start", "index": 0,
			"content_block": map[string]any{"type": "text", "text": ""},
		}),
		SSEEvent("ping", map[string]any{"type": "ping"}),
	}
	for _, d := range deltas {
		events = append(events, SSEEvent("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": d},
		}))
	}
	return append(events,
		SSEEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}),
		SSEEvent("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "end_turn"},
			"usage": map[string]any{"output_tokens": outputTokens},
		}),
		SSEEvent("message_stop", map[string]any{"type": "message_stop"}),
	)
}

// AnthropicModels is a /v1/models listing.
func AnthropicModels(ids ...string) map[string]any {
	data := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		data = append(data, map[string]any{"type": "model", "id": id, "display_name": id})
	}
	return map[string]any{"data": data, "has_more": false}
}

// GeminiResponse is a generateContent body or one streamed element.
func GeminiResponse(text, finishReason string, promptTokens, candidateTokens int) map[string]any {
	candidate := map[string]any{
		"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}},
	}
	if finishReason != "" {
		candidate["finishReason"] = finishReason
	}
	out := map[string]any{"candidates": []map[string]any{candidate}}
	if promptTokens > 0 || candidateTokens > 0 {
		out["usageMetadata"] = map[string]any{
			"promptTokenCount":     promptTokens,
			"candidatesTokenCount": candidateTokens,
			"totalTokenCount":      promptTokens + candidateTokens,
		}
	}
	return out
}

// GeminiStreamChunk is GeminiResponse serialized for an SSE stream.
func GeminiStreamChunk(text, finishReason string, promptTokens, candidateTokens int) string {
	return mustJSON(GeminiResponse(text, finishReason, promptTokens, candidateTokens))
}

// GeminiModels is a models listing.
func GeminiModels(ids ...string) map[string]any {
	models := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		models = append(models, map[string]any{
			"name":                       "models/" + id,
			"displayName":                id,
			"inputTokenLimit":            1048576,
			"supportedGenerationMethods": []string{"generateContent", "countTokens"},
		})
	}
	return map[string]any{"models": models}
}

// OllamaChatResponse is a non-streamed /api/chat body.
func OllamaChatResponse(content, model string, promptTokens, evalTokens int) map[string]any {
	return map[string]any{
		"model":             model,
		"message":           map[string]any{"role": "assistant", "content": content},
		"done":              true,
		"done_reason":       "stop",
		"prompt_eval_count": promptTokens,
		"eval_count":        evalTokens,
	}
}

// OllamaStream returns NDJSON lines for a streamed /api/chat answer.
func OllamaStream(model string, promptTokens, evalTokens int, deltas ...string) []string {
	lines := make([]string, 0, len(deltas)+1)
	for _, d := range deltas {
		lines = append(lines, mustJSON(map[string]any{
			"model":   model,
			"message": map[string]any{"role": "assistant", "content": d},
			"done":    false,
		}))
	}
	return append(lines, mustJSON(OllamaChatResponse("", model, promptTokens, evalTokens)))
}

// OllamaTags is an /api/tags listing.
func OllamaTags(names ...string) map[string]any {
	models := make([]map[string]any, 0, len(names))
	for _, n := range names {
		models = append(models, map[string]any{
			"name":    n,
			"model":   n,
			"size":    4661224676,
			"details": map[string]any{"family": "llama", "parameter_size": "8B"},
		})
	}
	return map[string]any{"models": models}
}
