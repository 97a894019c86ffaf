// Package circuit implements a per-provider circuit breaker.
//
// The breaker has two states. It is Closed until FailureThreshold consecutive
// failed operations are recorded for a provider, then Open for Cooldown.
// There is no half-open probe: once the cooldown expires the next request is
// allowed through and its outcome is recorded like any other. A success
// closes the circuit and clears the failure count.
//
// Authentication failures (HTTP 401) never count toward the threshold; they
// indicate a credential problem rather than an unhealthy backend.
package circuit

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Default breaker settings.
const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
)

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// Cooldown is how long an open circuit rejects requests.
	Cooldown time.Duration
}

// State is a snapshot of one provider's breaker state.
type State struct {
	ConsecutiveFailures int
	OpenUntil           time.Time
}

// Open reports whether the circuit rejects requests at now.
func (s State) Open(now time.Time) bool {
	return !s.OpenUntil.IsZero() && now.Before(s.OpenUntil)
}

// OpenError is returned by Preflight while a provider's circuit is open.
type OpenError struct {
	Provider  string
	OpenUntil time.Time
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("provider %q circuit open until %s", e.Provider, e.OpenUntil.Format(time.RFC3339))
}

// Listener is notified when a provider's circuit opens or closes.
type Listener func(provider string, open bool)

// Breaker tracks circuit state for any number of providers.
// It is safe for concurrent use.
type Breaker struct {
	cfg       Config
	mu        sync.Mutex
	states    map[string]*State
	listeners []Listener
	now       func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithListener registers a state change listener. Listeners run
// synchronously outside the breaker lock and must not block.
func WithListener(l Listener) Option {
	return func(b *Breaker) { b.listeners = append(b.listeners, l) }
}

// New creates a Breaker. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}

	b := &Breaker{
		cfg:    cfg,
		states: make(map[string]*State),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Preflight returns an *OpenError if the provider's circuit is open.
func (b *Breaker) Preflight(provider string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[provider]
	if !ok {
		return nil
	}
	now := b.now()
	if st.Open(now) {
		return &OpenError{Provider: provider, OpenUntil: st.OpenUntil}
	}
	return nil
}

// RecordSuccess closes the provider's circuit and resets its failure count.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	st, ok := b.states[provider]
	wasOpen := ok && !st.OpenUntil.IsZero()
	if ok {
		st.ConsecutiveFailures = 0
		st.OpenUntil = time.Time{}
	}
	b.mu.Unlock()

	if wasOpen {
		slog.Info("circuit closed", "provider", provider)
		b.notify(provider, false)
	}
}

// RecordFailure counts a failed operation. Status 401 is ignored. Once the
// count reaches the threshold the circuit opens for the cooldown period.
func (b *Breaker) RecordFailure(provider string, status int) {
	if status == http.StatusUnauthorized {
		return
	}

	b.mu.Lock()
	st, ok := b.states[provider]
	if !ok {
		st = &State{}
		b.states[provider] = st
	}
	st.ConsecutiveFailures++
	opened := false
	if st.ConsecutiveFailures >= b.cfg.FailureThreshold {
		st.OpenUntil = b.now().Add(b.cfg.Cooldown)
		opened = true
	}
	failures, until := st.ConsecutiveFailures, st.OpenUntil
	b.mu.Unlock()

	if opened {
		slog.Warn("circuit opened",
			"provider", provider,
			"consecutive_failures", failures,
			"open_until", until,
		)
		b.notify(provider, true)
	}
}

// State returns a snapshot of the provider's state.
func (b *Breaker) State(provider string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.states[provider]; ok {
		return *st
	}
	return State{}
}

// IsOpen reports whether the provider's circuit currently rejects requests.
func (b *Breaker) IsOpen(provider string) bool {
	return b.State(provider).Open(b.now())
}

// Reset forgets all state for the provider.
func (b *Breaker) Reset(provider string) {
	b.mu.Lock()
	_, existed := b.states[provider]
	delete(b.states, provider)
	b.mu.Unlock()

	if existed {
		b.notify(provider, false)
	}
}

func (b *Breaker) notify(provider string, open bool) {
	for _, l := range b.listeners {
		l(provider, open)
	}
}
