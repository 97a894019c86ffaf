// Package providers holds test doubles for provider adapters and their
// consumers: an HTTP mock backend and an in-memory Provider.
package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// StreamFormat selects how StreamChunks are framed.
type StreamFormat int

const (
	// StreamSSE writes "data: <chunk>" events followed by "data: [DONE]".
	StreamSSE StreamFormat = iota

	// StreamSSENoDone writes SSE events without the [DONE] sentinel.
	StreamSSENoDone

	// StreamNDJSON writes one chunk per line.
	StreamNDJSON
)

// MockServer is a mock HTTP server for testing provider adapters.
// It simulates backend responses including errors and streaming.
type MockServer struct {
	server    *httptest.Server
	responses map[string][]MockResponse
	requests  []RecordedRequest
	mu        sync.Mutex
}

// MockResponse defines a mock response configuration.
type MockResponse struct {
	StatusCode int
	Body       any
	Delay      time.Duration
	Headers    map[string]string

	// StreamChunks are written as a stream in Format. Each chunk may carry
	// its own "event:" line for SSE.
	StreamChunks []string
	Format       StreamFormat
}

// RecordedRequest is a request received by the server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// JSON decodes the request body into v.
func (r RecordedRequest) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// NewMockServer creates a new mock server.
func NewMockServer() *MockServer {
	ms := &MockServer{responses: make(map[string][]MockResponse)}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string { return ms.server.URL }

// Close closes the mock server.
func (ms *MockServer) Close() { ms.server.Close() }

// SetResponse sets the response for path, replacing any queued ones.
func (ms *MockServer) SetResponse(path string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = []MockResponse{response}
}

// SetSequence queues responses for path. Each request consumes one; the
// last is repeated.
func (ms *MockServer) SetSequence(path string, responses ...MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responses[path] = responses
}

// RequestCount returns the number of requests received for path, or for
// all paths when path is empty.
func (ms *MockServer) RequestCount(path string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if path == "" {
		return len(ms.requests)
	}
	n := 0
	for _, r := range ms.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent request for path.
func (ms *MockServer) LastRequest(path string) (RecordedRequest, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for i := len(ms.requests) - 1; i >= 0; i-- {
		if ms.requests[i].Path == path {
			return ms.requests[i], true
		}
	}
	return RecordedRequest{}, false
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	ms.mu.Lock()
	ms.requests = append(ms.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	queue, ok := ms.responses[r.URL.Path]
	var response MockResponse
	if ok && len(queue) > 0 {
		response = queue[0]
		if len(queue) > 1 {
			ms.responses[r.URL.Path] = queue[1:]
		}
	}
	ms.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}

	if len(response.StreamChunks) > 0 {
		ms.handleStream(w, r, response)
		return
	}

	if response.StatusCode == 0 {
		response.StatusCode = http.StatusOK
	}
	w.WriteHeader(response.StatusCode)

	switch v := response.Body.(type) {
	case nil:
	case string:
		_, _ = w.Write([]byte(v))
	case []byte:
		_, _ = w.Write(v)
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (ms *MockServer) handleStream(w http.ResponseWriter, r *http.Request, response MockResponse) {
	if response.Format == StreamNDJSON {
		w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	for _, chunk := range response.StreamChunks {
		if r.Context().Err() != nil {
			return
		}
		if response.Format == StreamNDJSON {
			fmt.Fprintf(w, "%s\n", chunk)
		} else {
			fmt.Fprintf(w, "%s\n\n", sseFrame(chunk))
		}
		flusher.Flush()
		time.Sleep(5 * time.Millisecond)
	}

	if response.Format == StreamSSE {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// sseFrame prefixes chunk with "data: " unless it is already a framed event.
func sseFrame(chunk string) string {
	if len(chunk) >= 6 && (chunk[:6] == "event:" || chunk[:5] == "data:") {
		return chunk
	}
	return "data: " + chunk
}

// SSEEvent frames a named SSE event with a JSON payload.
func SSEEvent(name string, data any) string {
	b, _ := json.Marshal(data)
	return fmt.Sprintf("event: %s\ndata: %s", name, b)
}

// MockErrorResponse creates a JSON error response.
func MockErrorResponse(statusCode int, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body: map[string]any{
			"error": map[string]any{
				"message": message,
				"type":    "invalid_request_error",
				"code":    statusCode,
			},
		},
	}
}

// MockAuthError creates a 401 response.
func MockAuthError() MockResponse {
	return MockErrorResponse(http.StatusUnauthorized, "Invalid API key")
}

// MockRateLimitError creates a 429 response with Retry-After.
func MockRateLimitError(retryAfter int) MockResponse {
	response := MockErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded")
	response.Headers = map[string]string{"Retry-After": fmt.Sprintf("%d", retryAfter)}
	return response
}

// MockServerError creates a 500 response.
func MockServerError() MockResponse {
	return MockErrorResponse(http.StatusInternalServerError, "Internal server error")
}

// MockUnavailable creates a 503 response.
func MockUnavailable() MockResponse {
	return MockErrorResponse(http.StatusServiceUnavailable, "Service unavailable")
}
