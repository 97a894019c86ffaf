package credentials

import (
	"context"
	"errors"
	"sort"
)

// Chain consults stores in order. Reads return the first key found; writes
// go to the first store, and Delete removes the key from every writable
// store.
type Chain []Store

// Get implements Store.
func (c Chain) Get(ctx context.Context, providerID string) (string, error) {
	for _, s := range c {
		v, err := s.Get(ctx, providerID)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// Has implements Store.
func (c Chain) Has(ctx context.Context, providerID string) (bool, error) {
	for _, s := range c {
		ok, err := s.Has(ctx, providerID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Set implements Store.
func (c Chain) Set(ctx context.Context, providerID, key string) error {
	if len(c) == 0 {
		return ErrReadOnly
	}
	return c[0].Set(ctx, providerID, key)
}

// Delete implements Store.
func (c Chain) Delete(ctx context.Context, providerID string) error {
	for _, s := range c {
		if err := s.Delete(ctx, providerID); err != nil && !errors.Is(err, ErrReadOnly) {
			return err
		}
	}
	return nil
}

// List implements Store.
func (c Chain) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, s := range c {
		ids, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
