package usage

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"mercator-hq/conduit/pkg/providers"
)

// Event is one completed provider operation.
type Event struct {
	// ID is a ULID assigned on append when empty.
	ID string `json:"id"`

	Timestamp        time.Time `json:"timestamp"`
	ProviderID       string    `json:"provider"`
	ModelID          string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`

	// EstimatedCostUSD is nil when the cost is unknown.
	EstimatedCostUSD *float64 `json:"estimatedCostUSD,omitempty"`

	Success         bool  `json:"success"`
	LatencyMs       int64 `json:"latencyMs"`
	ContextIncluded bool  `json:"contextIncluded"`

	// ErrorClass is set for failed events.
	ErrorClass providers.ErrorClass `json:"errorClass,omitempty"`
}

// Cost returns the event cost, treating an unknown cost as zero.
func (e Event) Cost() float64 {
	if e.EstimatedCostUSD == nil {
		return 0
	}
	return *e.EstimatedCostUSD
}

// EventFromOutcome converts a provider outcome into an Event.
func EventFromOutcome(o providers.Outcome) Event {
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	e := Event{
		Timestamp:        at,
		ProviderID:       o.Provider,
		ModelID:          o.Model,
		PromptTokens:     o.Usage.PromptTokens,
		CompletionTokens: o.Usage.CompletionTokens,
		TotalTokens:      o.Usage.TotalTokens,
		Success:          o.Success,
		LatencyMs:        o.Latency.Milliseconds(),
		ContextIncluded:  o.ContextIncluded,
	}
	if e.TotalTokens == 0 {
		e.TotalTokens = e.PromptTokens + e.CompletionTokens
	}
	if o.CostUSD != nil {
		cost := *o.CostUSD
		e.EstimatedCostUSD = &cost
	}
	if !o.Success {
		e.ErrorClass = providers.Classify(o.Err)
	}
	return e
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Range is a time interval. A zero Start or End leaves that side open; both
// ends are inclusive.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within r.
func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Summary aggregates a group of events.
type Summary struct {
	Requests         int     `json:"requests"`
	Failures         int     `json:"failures"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	CostUSD          float64 `json:"costUSD"`
	TotalLatencyMs   int64   `json:"totalLatencyMs"`
}

// AverageLatency returns the mean latency of the group.
func (s Summary) AverageLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return time.Duration(s.TotalLatencyMs/int64(s.Requests)) * time.Millisecond
}

func (s *Summary) add(e Event) {
	s.Requests++
	if !e.Success {
		s.Failures++
	}
	s.PromptTokens += e.PromptTokens
	s.CompletionTokens += e.CompletionTokens
	s.TotalTokens += e.TotalTokens
	s.CostUSD += e.Cost()
	s.TotalLatencyMs += e.LatencyMs
}

// DailyCost is the spend of one calendar day.
type DailyCost struct {
	Day     time.Time
	CostUSD float64
}

// Store persists events. Implementations must be safe for concurrent use.
type Store interface {
	// Save persists events. Events already stored (by ID) are ignored.
	Save(ctx context.Context, events []Event) error

	// Load returns every stored event ordered by timestamp.
	Load(ctx context.Context) ([]Event, error)

	// DeleteBefore removes events older than cutoff and returns how many
	// were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Count returns the number of stored events.
	Count(ctx context.Context) (int64, error)

	// Close releases resources held by the store.
	Close() error
}
