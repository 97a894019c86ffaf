package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Ledger is the in-memory usage log with asynchronous persistence.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	events  []Event
	pending []Event

	store   Store
	flushMu sync.Mutex
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	listeners []func(Event)
	logger    *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithListener registers fn to be called synchronously for every appended
// event. Listeners must not block.
func WithListener(fn func(Event)) LedgerOption {
	return func(l *Ledger) { l.listeners = append(l.listeners, fn) }
}

// NewLedger creates a ledger. When store is nil the ledger is memory-only.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:   store,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  slog.Default().With("component", "usage.ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if store != nil {
		go l.run()
	} else {
		close(l.stopped)
	}
	return l
}

// Load replaces the in-memory log with the stored events. Call it once at
// startup, before the first Append.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	events, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load usage log: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	l.mu.Lock()
	l.events = append(events, l.events...)
	l.mu.Unlock()

	l.logger.Debug("usage log loaded", "events", len(events))
	return nil
}

// Append adds e to the log and queues it for persistence. A missing ID or
// timestamp is filled in. The stored event is returned.
func (l *Ledger) Append(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = newID(e.Timestamp)
	}

	l.mu.Lock()
	l.events = append(l.events, e)
	if l.store != nil {
		l.pending = append(l.pending, e)
	}
	l.mu.Unlock()

	if l.store != nil {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	for _, fn := range l.listeners {
		fn(e)
	}
	return e
}

// snapshot returns the current log. Existing elements are never modified
// and the capacity is clipped, so the result is safe to read while later
// appends proceed.
func (l *Ledger) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[:len(l.events):len(l.events)]
}

// Len returns the number of events in the log.
func (l *Ledger) Len() int {
	return len(l.snapshot())
}

// Events returns the events within r in append order.
func (l *Ledger) Events(r Range) []Event {
	var out []Event
	for _, e := range l.snapshot() {
		if r.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out
}

// Aggregate sums the events within r. Keys are provider ids, or
// "provider::model" when byProviderOnly is false.
func (l *Ledger) Aggregate(byProviderOnly bool, r Range) map[string]Summary {
	out := make(map[string]Summary)
	for _, e := range l.snapshot() {
		if !r.Contains(e.Timestamp) {
			continue
		}
		key := e.ProviderID
		if !byProviderOnly {
			key = AggregateKey(e.ProviderID, e.ModelID)
		}
		s := out[key]
		s.add(e)
		out[key] = s
	}
	return out
}

// AggregateKey returns the per-model aggregation key.
func AggregateKey(providerID, modelID string) string {
	return providerID + "::" + modelID
}

// CostFor returns the total cost of providerID's events within r.
func (l *Ledger) CostFor(providerID string, r Range) float64 {
	var total float64
	for _, e := range l.snapshot() {
		if e.ProviderID == providerID && r.Contains(e.Timestamp) {
			total += e.Cost()
		}
	}
	return total
}

// DailyCosts returns the spend of each of the last days calendar days up to
// and including now, oldest first. An empty providerID includes every
// provider.
func (l *Ledger) DailyCosts(providerID string, days int, now time.Time) []DailyCost {
	if days <= 0 {
		return nil
	}
	today := startOfDay(now)
	first := today.AddDate(0, 0, -(days - 1))

	out := make([]DailyCost, days)
	for i := range out {
		out[i].Day = first.AddDate(0, 0, i)
	}
	for _, e := range l.snapshot() {
		if providerID != "" && e.ProviderID != providerID {
			continue
		}
		ts := e.Timestamp.In(now.Location())
		if ts.Before(first) || ts.After(now) {
			continue
		}
		idx := dayIndex(first, startOfDay(ts))
		if idx >= 0 && idx < days {
			out[idx].CostUSD += e.Cost()
		}
	}
	return out
}

func dayIndex(first, day time.Time) int {
	// Calendar arithmetic rather than division so DST days count once.
	idx := 0
	for d := first; d.Before(day); d = d.AddDate(0, 0, 1) {
		idx++
	}
	return idx
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// PruneBefore drops events older than cutoff from memory and storage and
// returns how many were dropped from memory.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	kept := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(l.events) - len(kept)
	l.events = kept
	l.mu.Unlock()

	if l.store != nil {
		if err := l.Flush(ctx); err != nil {
			return removed, err
		}
		if _, err := l.store.DeleteBefore(ctx, cutoff); err != nil {
			return removed, fmt.Errorf("failed to prune stored usage: %w", err)
		}
	}
	return removed, nil
}

func (l *Ledger) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.wake:
			if err := l.Flush(context.Background()); err != nil {
				l.logger.Warn("failed to persist usage events", "error", err)
			}
		case <-l.done:
			return
		}
	}
}

// Flush saves every queued event. Events that fail to save stay queued.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := l.store.Save(ctx, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return err
	}
	return nil
}

// Close stops background persistence, saves queued events and closes the
// store. It is safe to call more than once.
func (l *Ledger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		<-l.stopped
		if l.store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := l.Flush(ctx); ferr != nil {
			err = ferr
		}
		if cerr := l.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
