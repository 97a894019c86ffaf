package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/conduit/pkg/limits/circuit"
	"mercator-hq/conduit/pkg/limits/ratelimit"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleeps) get() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestExecutor(t *testing.T, breaker *circuit.Breaker, sleeps *recordedSleeps, opts ...ExecutorOption) *Executor {
	t.Helper()
	opts = append([]ExecutorOption{WithSleep(sleeps.sleep)}, opts...)
	return NewExecutor(ExecutorConfig{
		Provider: "test",
		Backoff:  Backoff{Base: 500 * time.Millisecond, Max: 8 * time.Second, rand: func() float64 { return 0 }},
	}, breaker, ratelimit.NewPacer(0), opts...)
}

func TestNewExecutor_Defaults(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{Provider: "test"}, nil, nil)
	assert.Equal(t, DefaultMaxAttempts, exec.maxAttempts)
	assert.Equal(t, DefaultBaseBackoff, exec.backoff.Base)
	assert.Equal(t, DefaultMaxBackoff, exec.backoff.Max)
	assert.Equal(t, DefaultJitter, exec.backoff.Jitter)

	exec = NewExecutor(ExecutorConfig{Provider: "test", Backoff: Backoff{Jitter: 0.05}}, nil, nil)
	assert.Equal(t, 0.05, exec.backoff.Jitter)
}

func statusSequence(codes ...int) (http.HandlerFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		code := codes[len(codes)-1]
		if n < len(codes) {
			code = codes[n]
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = io.WriteString(w, `{"ok":true}`)
			return
		}
		_, _ = io.WriteString(w, `{"error":{"message":"status `+http.StatusText(code)+`"}}`)
	}, &calls
}

func TestExecutor_RetriesTransientThenSucceeds(t *testing.T) {
	handler, calls := statusSequence(503, 502, 200)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	breaker := circuit.New(circuit.Config{})
	sleeps := &recordedSleeps{}
	exec := newTestExecutor(t, breaker, sleeps)

	var out struct {
		OK bool `json:"ok"`
	}
	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, sleeps.get(), 2)
	assert.Zero(t, breaker.State("test").ConsecutiveFailures)
}

func TestExecutor_ExhaustedRetriesRecordOneFailure(t *testing.T) {
	handler, calls := statusSequence(500)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	breaker := circuit.New(circuit.Config{})
	sleeps := &recordedSleeps{}
	exec := newTestExecutor(t, breaker, sleeps)

	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 500, perr.StatusCode)
	assert.Equal(t, "status Internal Server Error", perr.Message)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())
	assert.Equal(t, 1, breaker.State("test").ConsecutiveFailures)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
	}, sleeps.get())
}

func TestExecutor_ThreeFailedOperationsOpenCircuit(t *testing.T) {
	handler, calls := statusSequence(503)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	breaker := circuit.New(circuit.Config{})
	exec := newTestExecutor(t, breaker, &recordedSleeps{})
	build := JSONRequest(http.MethodGet, srv.URL, nil, nil)

	for i := 0; i < 3; i++ {
		err := exec.DoJSON(context.Background(), "test", build, nil)
		require.Error(t, err)
	}
	assert.True(t, breaker.IsOpen("test"))
	before := calls.Load()

	err := exec.DoJSON(context.Background(), "test", build, nil)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, before, calls.Load(), "no network I/O while open")
	assert.Equal(t, ClassCircuitOpen, Classify(err))
}

func TestExecutor_UnauthorizedIsNotRetriedOrCounted(t *testing.T) {
	handler, calls := statusSequence(401)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	breaker := circuit.New(circuit.Config{})
	exec := newTestExecutor(t, breaker, &recordedSleeps{})

	for i := 0; i < 5; i++ {
		err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Zero(t, breaker.State("test").ConsecutiveFailures)
	assert.False(t, breaker.IsOpen("test"))
}

func TestExecutor_PermanentStatusNotRetried(t *testing.T) {
	handler, calls := statusSequence(400)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	breaker := circuit.New(circuit.Config{})
	sleeps := &recordedSleeps{}
	exec := newTestExecutor(t, breaker, sleeps)

	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 400, perr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeps.get())
	assert.Equal(t, 1, breaker.State("test").ConsecutiveFailures)
}

func TestExecutor_RetryAfterIsClamped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		case 3:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	exec := newTestExecutor(t, circuit.New(circuit.Config{}), sleeps)

	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 8 * time.Second, 500 * time.Millisecond}, sleeps.get())
}

func TestExecutor_RateLimitErrorAfterRetries(t *testing.T) {
	handler, _ := statusSequence(429)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	exec := newTestExecutor(t, circuit.New(circuit.Config{}), &recordedSleeps{})
	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestExecutor_NetworkErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	breaker := circuit.New(circuit.Config{})
	sleeps := &recordedSleeps{}
	exec := newTestExecutor(t, breaker, sleeps)

	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, url, nil, nil), nil)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Len(t, sleeps.get(), DefaultMaxAttempts-1)
	assert.Equal(t, 1, breaker.State("test").ConsecutiveFailures)
}

func TestExecutor_AttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewExecutor(ExecutorConfig{Provider: "test", Timeout: 50 * time.Millisecond},
		circuit.New(circuit.Config{}), ratelimit.NewPacer(0), WithSleep((&recordedSleeps{}).sleep))

	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecutor_CancellationNotCounted(t *testing.T) {
	handler, _ := statusSequence(503)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	breaker := circuit.New(circuit.Config{})
	exec := newTestExecutor(t, breaker, &recordedSleeps{}, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	err := exec.DoJSON(ctx, "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, breaker.State("test").ConsecutiveFailures)
}

func TestExecutor_BuildErrorDoesNotTripBreaker(t *testing.T) {
	breaker := circuit.New(circuit.Config{FailureThreshold: 1})
	exec := newTestExecutor(t, breaker, &recordedSleeps{})

	err := exec.DoJSON(context.Background(), "test", func(context.Context) (*http.Request, error) {
		return nil, errors.New("bad url")
	}, nil)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.False(t, breaker.IsOpen("test"))
}

func TestExecutor_ParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()

	exec := newTestExecutor(t, circuit.New(circuit.Config{}), &recordedSleeps{})
	var out map[string]any
	err := exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), &out)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "not json", parseErr.RawResponse)
}

func TestExecutor_OpenStreamRetriesSetup(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: hello\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	exec := NewExecutor(ExecutorConfig{Provider: "test", Timeout: time.Second},
		circuit.New(circuit.Config{}), ratelimit.NewPacer(0), WithSleep((&recordedSleeps{}).sleep))

	resp, err := exec.OpenStream(context.Background(), "stream", JSONRequest(http.MethodPost, srv.URL, nil, map[string]bool{"stream": true}))
	require.NoError(t, err)
	defer resp.Body.Close()

	r := NewSSEReader(resp.Body)
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "hello", ev.Data)
	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, DoneSentinel, ev.Data)
	assert.Equal(t, int32(2), calls.Load())
}

type countingObserver struct {
	attempts atomic.Int32
	retries  atomic.Int32
}

func (o *countingObserver) ObserveAttempt(string, int, error, time.Duration) { o.attempts.Add(1) }
func (o *countingObserver) ObserveRetry(string, int, time.Duration)          { o.retries.Add(1) }

func TestExecutor_Observer(t *testing.T) {
	handler, _ := statusSequence(502, 200)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	obs := &countingObserver{}
	exec := newTestExecutor(t, circuit.New(circuit.Config{}), &recordedSleeps{}, WithRequestObserver(obs))

	require.NoError(t, exec.DoJSON(context.Background(), "test", JSONRequest(http.MethodGet, srv.URL, nil, nil), nil))
	assert.Equal(t, int32(2), obs.attempts.Load())
	assert.Equal(t, int32(1), obs.retries.Load())
}

func TestJSONRequest_SetsHeaders(t *testing.T) {
	build := JSONRequest(http.MethodPost, "http://example.invalid/v1", map[string]string{"x-api-key": "k"}, map[string]string{"a": "b"})

	for i := 0; i < 2; i++ {
		req, err := build(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "k", req.Header.Get("x-api-key"))
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":"b"}`, string(body))
	}
}

func TestExtractErrorMessage(t *testing.T) {
	assert.Equal(t, "nested", extractErrorMessage([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "flat", extractErrorMessage([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "top", extractErrorMessage([]byte(`{"message":"top"}`)))
	assert.Equal(t, "plain text", extractErrorMessage([]byte("plain text")))
	assert.Equal(t, "no response body", extractErrorMessage(nil))
}
