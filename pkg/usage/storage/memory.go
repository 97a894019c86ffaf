package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mercator-hq/conduit/pkg/usage"
)

// MemoryStorage implements usage.Store in memory. It is meant for tests.
type MemoryStorage struct {
	mu       sync.RWMutex
	events   map[string]usage.Event
	failSave error
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{events: make(map[string]usage.Event)}
}

// FailSaves makes every Save fail with err until called again with nil.
func (s *MemoryStorage) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

// Save stores events, ignoring ids already present.
func (s *MemoryStorage) Save(_ context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return usage.NewStorageError("memory", "save", s.failSave)
	}
	for _, e := range events {
		if _, ok := s.events[e.ID]; !ok {
			s.events[e.ID] = e
		}
	}
	return nil
}

// Load returns the stored events ordered by timestamp then id.
func (s *MemoryStorage) Load(context.Context) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]usage.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// DeleteBefore removes events older than cutoff.
func (s *MemoryStorage) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored events.
func (s *MemoryStorage) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error { return nil }

var _ usage.Store = (*MemoryStorage)(nil)
