package settings

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is a Store without persistence. Values are lost when the
// process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]Value
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]Value)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return Value{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, v Value) error {
	if key == "" {
		return errEmptyKey
	}
	if !v.IsValid() {
		return errInvalidValue
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = v
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) (map[string]Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Value)
	for k, v := range m.values {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
