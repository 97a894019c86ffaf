package settings

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get for keys with no stored value.
var ErrNotFound = errors.New("setting not found")

// Store persists setting values by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) (Value, error)

	// Set stores v under key, replacing any previous value.
	Set(ctx context.Context, key string, v Value) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every stored value whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]Value, error)

	// Close releases the store's resources.
	Close() error
}
