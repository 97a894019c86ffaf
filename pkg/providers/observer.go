package providers

import (
	"context"
	"time"
)

// RequestObserver receives per-attempt telemetry from an Executor.
// Implementations must be safe for concurrent use and must not block.
type RequestObserver interface {
	// ObserveAttempt is called after every network attempt. status is 0 for
	// transport failures.
	ObserveAttempt(provider string, status int, err error, latency time.Duration)

	// ObserveRetry is called before sleeping ahead of a retry.
	ObserveRetry(provider string, attempt int, delay time.Duration)
}

// Outcome is the result of one logical operation (all attempts included).
type Outcome struct {
	At              time.Time
	Provider        string
	Model           string
	Usage           TokenUsage
	CostUSD         *float64
	Success         bool
	Latency         time.Duration
	ContextIncluded bool
	Streamed        bool
	Err             error
}

// OutcomeObserver receives one Outcome per completed logical operation,
// successful or not. Cancelled operations are not reported.
type OutcomeObserver interface {
	ObserveOutcome(ctx context.Context, o Outcome)
}

// OutcomeObserverFunc adapts a function to OutcomeObserver.
type OutcomeObserverFunc func(ctx context.Context, o Outcome)

// ObserveOutcome calls f.
func (f OutcomeObserverFunc) ObserveOutcome(ctx context.Context, o Outcome) { f(ctx, o) }

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, int, error, time.Duration) {}
func (nopObserver) ObserveRetry(string, int, time.Duration)          {}
func (nopObserver) ObserveOutcome(context.Context, Outcome)          {}

// MultiOutcomeObserver fans an Outcome out to every non-nil observer in order.
func MultiOutcomeObserver(observers ...OutcomeObserver) OutcomeObserver {
	var list []OutcomeObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return OutcomeObserverFunc(func(ctx context.Context, o Outcome) {
		for _, obs := range list {
			obs.ObserveOutcome(ctx, o)
		}
	})
}
