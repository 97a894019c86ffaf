package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/conduit/pkg/limits/circuit"
	"mercator-hq/conduit/pkg/limits/ratelimit"
)

// Executor defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 8 * time.Second
	DefaultJitter      = 0.2

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

const tracerName = "mercator-hq/conduit/pkg/providers"

// RequestFunc builds a fresh request for one attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Provider is the id used for breaker, pacer, logs and errors.
	Provider string

	// MaxAttempts per logical operation, including the first.
	MaxAttempts int

	// Backoff computes retry delays. Zero fields take defaults.
	Backoff Backoff

	// Timeout bounds one attempt. For streams it covers connection setup
	// only. Zero disables the per-attempt timeout.
	Timeout time.Duration
}

// Executor performs HTTP requests for one provider with pacing, retry,
// exponential backoff and circuit breaking.
//
// Per logical operation it makes up to MaxAttempts attempts:
//
//   - the circuit is checked before each attempt; an open circuit fails
//     with CircuitOpenError without network I/O
//   - 2xx records a success
//   - 401 fails immediately with AuthError and never trips the breaker
//   - 429, 500, 502, 503, 504 and transport errors are retried; when
//     attempts run out one failure is recorded
//   - any other status records a failure and fails without retry
//
// Caller cancellation ends the operation without recording a failure.
type Executor struct {
	provider    string
	client      *http.Client
	breaker     *circuit.Breaker
	pacer       *ratelimit.Pacer
	maxAttempts int
	backoff     Backoff
	timeout     time.Duration
	observer    RequestObserver
	tracer      trace.Tracer
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets the HTTP client. The client's own Timeout should be
// zero so streams are not cut off.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithRequestObserver sets the attempt observer.
func WithRequestObserver(o RequestObserver) ExecutorOption {
	return func(e *Executor) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithTracer sets the tracer used for attempt spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// WithSleep replaces the backoff sleep. Intended for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = sleep }
}

// NewExecutor creates an Executor. breaker and pacer are usually shared
// across providers; nil creates private instances.
func NewExecutor(cfg ExecutorConfig, breaker *circuit.Breaker, pacer *ratelimit.Pacer, opts ...ExecutorOption) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = DefaultBaseBackoff
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = DefaultMaxBackoff
	}
	if cfg.Backoff.Max < cfg.Backoff.Base {
		cfg.Backoff.Max = cfg.Backoff.Base
	}
	if cfg.Backoff.Jitter <= 0 {
		cfg.Backoff.Jitter = DefaultJitter
	}
	if breaker == nil {
		breaker = circuit.New(circuit.Config{})
	}
	if pacer == nil {
		pacer = ratelimit.NewPacer(0)
	}

	e := &Executor{
		provider:    cfg.Provider,
		client:      newHTTPClient(),
		breaker:     breaker,
		pacer:       pacer,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		timeout:     cfg.Timeout,
		observer:    nopObserver{},
		tracer:      otel.Tracer(tracerName),
		sleep:       sleepContext,
		now:         time.Now,
		logger:      slog.Default().With("provider", cfg.Provider),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: transport}
}

// Provider returns the provider id the executor serves.
func (e *Executor) Provider() string { return e.provider }

// CloseIdleConnections releases pooled connections.
func (e *Executor) CloseIdleConnections() { e.client.CloseIdleConnections() }

// Do performs a non-streaming request. On success the returned response
// body is fully buffered and the caller must close it.
func (e *Executor) Do(ctx context.Context, op string, build RequestFunc) (*http.Response, error) {
	return e.execute(ctx, op, build, false)
}

// OpenStream performs connection setup for a streaming request with the
// same retry rules as Do. The returned body is live; the caller must close
// it. Errors while reading the body are not retried.
func (e *Executor) OpenStream(ctx context.Context, op string, build RequestFunc) (*http.Response, error) {
	return e.execute(ctx, op, build, true)
}

// DoJSON performs a request and decodes a JSON response into out.
func (e *Executor) DoJSON(ctx context.Context, op string, build RequestFunc, out any) error {
	resp, err := e.Do(ctx, op, build)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ParseError{Provider: e.provider, Cause: fmt.Errorf("failed to read response: %w", err)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{
			Provider:    e.provider,
			RawResponse: truncate(string(data), 500),
			Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
		}
	}
	return nil
}

// attemptResult is the classified outcome of one attempt.
type attemptResult struct {
	resp       *http.Response
	status     int
	err        error
	retryable  bool
	retryAfter time.Duration
	hasHint    bool

	// local is set when the request never left the process.
	local bool
}

func (e *Executor) execute(ctx context.Context, op string, build RequestFunc, stream bool) (*http.Response, error) {
	ctx, span := e.tracer.Start(ctx, "provider."+op, trace.WithAttributes(
		attribute.String("provider.id", e.provider),
		attribute.Bool("provider.stream", stream),
	))
	defer span.End()

	var last attemptResult
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		span.SetAttributes(attribute.Int("provider.attempts", attempt))

		if err := e.breaker.Preflight(e.provider); err != nil {
			var open *circuit.OpenError
			if errors.As(err, &open) {
				err = &CircuitOpenError{Provider: e.provider, OpenUntil: open.OpenUntil}
			}
			span.SetStatus(codes.Error, "circuit open")
			return nil, err
		}

		if err := e.pacer.WaitIfNeeded(ctx, e.provider); err != nil {
			return nil, cancellation(ctx, err)
		}

		last = e.attempt(ctx, build, stream)
		if ctx.Err() != nil {
			if last.resp != nil {
				last.resp.Body.Close()
			}
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		}

		if last.err == nil {
			e.breaker.RecordSuccess(e.provider)
			span.SetAttributes(attribute.Int("http.status_code", last.status))
			return last.resp, nil
		}

		if !last.retryable {
			if !last.local {
				e.breaker.RecordFailure(e.provider, last.status)
			}
			span.RecordError(last.err)
			span.SetStatus(codes.Error, last.err.Error())
			return nil, last.err
		}

		if attempt == e.maxAttempts {
			break
		}

		delay := e.backoff.Delay(attempt)
		if last.hasHint {
			delay = e.backoff.ClampRetryAfter(last.retryAfter)
		}
		e.logger.Warn("request failed, will retry",
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
			"status", last.status,
			"backoff", delay,
			"error", last.err,
		)
		e.observer.ObserveRetry(e.provider, attempt, delay)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, cancellation(ctx, err)
		}
	}

	e.breaker.RecordFailure(e.provider, last.status)
	span.RecordError(last.err)
	span.SetStatus(codes.Error, last.err.Error())
	e.logger.Error("request failed after retries", "attempts", e.maxAttempts, "error", last.err)
	return nil, last.err
}

func (e *Executor) attempt(ctx context.Context, build RequestFunc, stream bool) attemptResult {
	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	var timer *time.Timer
	if e.timeout > 0 {
		timer = time.AfterFunc(e.timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}
	stopTimer := func() bool {
		return timer == nil || timer.Stop()
	}

	req, err := build(attemptCtx)
	if err != nil {
		stopTimer()
		cancel()
		return attemptResult{err: &ValidationError{Field: "request", Message: err.Error()}, local: true}
	}

	start := e.now()
	resp, err := e.client.Do(req)
	if err != nil {
		stopTimer()
		cancel()
		res := attemptResult{
			err:       &NetworkError{Provider: e.provider, Timeout: timedOut.Load(), Cause: err},
			retryable: true,
		}
		e.observer.ObserveAttempt(e.provider, 0, res.err, e.now().Sub(start))
		return res
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if stream {
			if !stopTimer() {
				resp.Body.Close()
				cancel()
				res := attemptResult{
					status:    resp.StatusCode,
					err:       &NetworkError{Provider: e.provider, Timeout: true, Cause: context.DeadlineExceeded},
					retryable: true,
				}
				e.observer.ObserveAttempt(e.provider, 0, res.err, e.now().Sub(start))
				return res
			}
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			e.observer.ObserveAttempt(e.provider, resp.StatusCode, nil, e.now().Sub(start))
			return attemptResult{resp: resp, status: resp.StatusCode}
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		stopTimer()
		cancel()
		if readErr != nil {
			res := attemptResult{
				status:    resp.StatusCode,
				err:       &NetworkError{Provider: e.provider, Timeout: timedOut.Load(), Cause: readErr},
				retryable: true,
			}
			e.observer.ObserveAttempt(e.provider, 0, res.err, e.now().Sub(start))
			return res
		}
		resp.Body = io.NopCloser(bytes.NewReader(data))
		e.observer.ObserveAttempt(e.provider, resp.StatusCode, nil, e.now().Sub(start))
		return attemptResult{resp: resp, status: resp.StatusCode}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	stopTimer()
	cancel()

	res := e.classifyStatus(resp, body)
	e.observer.ObserveAttempt(e.provider, resp.StatusCode, res.err, e.now().Sub(start))
	return res
}

func (e *Executor) classifyStatus(resp *http.Response, body []byte) attemptResult {
	status := resp.StatusCode
	msg := extractErrorMessage(body)
	res := attemptResult{status: status}

	switch {
	case status == http.StatusUnauthorized:
		res.err = &AuthError{Provider: e.provider, Message: msg}

	case status == http.StatusTooManyRequests:
		res.retryable = true
		res.retryAfter, res.hasHint = parseRetryAfter(resp.Header.Get("Retry-After"), e.now())
		res.err = &RateLimitError{Provider: e.provider, RetryAfter: res.retryAfter, Message: msg}

	case IsRetryableStatus(status):
		res.retryable = true
		res.retryAfter, res.hasHint = parseRetryAfter(resp.Header.Get("Retry-After"), e.now())
		res.err = &ProviderError{Provider: e.provider, StatusCode: status, Message: msg}

	default:
		res.err = &ProviderError{Provider: e.provider, StatusCode: status, Message: msg}
	}
	return res
}

// cancelOnClose releases the attempt context when a stream body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// JSONRequest returns a RequestFunc that sends body as JSON. The body is
// marshalled once and replayed on every attempt.
func JSONRequest(method, url string, headers map[string]string, body any) RequestFunc {
	var payload []byte
	var marshalErr error
	if body != nil {
		payload, marshalErr = json.Marshal(body)
	}

	return func(ctx context.Context) (*http.Request, error) {
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", marshalErr)
		}

		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}
}

// extractErrorMessage pulls a readable message out of an error body. Most
// backends use {"error":{"message":...}}; some use {"error":"..."} or
// {"message":...}.
func extractErrorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		if len(shaped.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var flat string
			if json.Unmarshal(shaped.Error, &flat) == nil && flat != "" {
				return flat
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no response body"
	}
	return truncate(msg, 500)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cancellation returns ctx.Err() when the context ended, otherwise err.
func cancellation(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
