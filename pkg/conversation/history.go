package conversation

import (
	"context"
	"errors"
	"sync"
)

// ErrMessageNotFound is returned when UpdateContent names an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// History is an ordered conversation transcript.
type History interface {
	// Append adds m to the end of the transcript.
	Append(ctx context.Context, m Message) error

	// UpdateContent replaces the content of the message with the given ID.
	UpdateContent(ctx context.Context, id, content string) error

	// Update replaces the stored message with the same ID.
	Update(ctx context.Context, m Message) error

	// Recent returns up to limit of the newest messages, oldest first.
	// A limit <= 0 returns the whole transcript.
	Recent(ctx context.Context, limit int) ([]Message, error)

	// Clear removes every message.
	Clear(ctx context.Context) error
}

// MemoryHistory keeps the transcript in memory. It is safe for concurrent use.
type MemoryHistory struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int
	max      int
}

// NewMemoryHistory creates an empty history. When max > 0 the oldest
// messages are dropped once the transcript grows past max.
func NewMemoryHistory(max int) *MemoryHistory {
	return &MemoryHistory{index: make(map[string]int), max: max}
}

// Append adds m to the end of the transcript.
func (h *MemoryHistory) Append(_ context.Context, m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, m)
	if h.max > 0 && len(h.messages) > h.max {
		h.messages = append([]Message(nil), h.messages[len(h.messages)-h.max:]...)
		h.reindex()
		return nil
	}
	h.index[m.ID] = len(h.messages) - 1
	return nil
}

// UpdateContent replaces the content of message id.
func (h *MemoryHistory) UpdateContent(_ context.Context, id, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, ok := h.index[id]
	if !ok {
		return ErrMessageNotFound
	}
	h.messages[i].Content = content
	return nil
}

// Update replaces the stored message with m.ID.
func (h *MemoryHistory) Update(_ context.Context, m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	i, ok := h.index[m.ID]
	if !ok {
		return ErrMessageNotFound
	}
	h.messages[i] = m
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (h *MemoryHistory) Recent(_ context.Context, limit int) ([]Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if limit > 0 && len(h.messages) > limit {
		start = len(h.messages) - limit
	}
	out := make([]Message, len(h.messages)-start)
	copy(out, h.messages[start:])
	return out, nil
}

// Len returns the number of stored messages.
func (h *MemoryHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear removes every message.
func (h *MemoryHistory) Clear(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
	h.index = make(map[string]int)
	return nil
}

func (h *MemoryHistory) reindex() {
	h.index = make(map[string]int, len(h.messages))
	for i, m := range h.messages {
		h.index[m.ID] = i
	}
}

var _ History = (*MemoryHistory)(nil)
