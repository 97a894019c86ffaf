package credentials

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when no key is stored for a provider.
var ErrNotFound = errors.New("credential not found")

// ErrReadOnly is returned by stores that cannot be written.
var ErrReadOnly = errors.New("credential store is read-only")

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateID checks that a provider id is safe to use as a key name.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid provider id %q: use lowercase letters, digits, '-' or '_'", id)
	}
	return nil
}

// Store is a keyed credential store.
type Store interface {
	// Get returns the key for providerID or ErrNotFound.
	Get(ctx context.Context, providerID string) (string, error)

	// Has reports whether a key exists for providerID.
	Has(ctx context.Context, providerID string) (bool, error)

	// Set stores key for providerID, replacing any previous value.
	Set(ctx context.Context, providerID, key string) error

	// Delete removes the key for providerID. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, providerID string) error

	// List returns the provider ids that have keys.
	List(ctx context.Context) ([]string, error)
}

// Op is the kind of credential change.
type Op string

const (
	OpAdded   Op = "added"
	OpUpdated Op = "updated"
	OpRemoved Op = "removed"
)

// Event reports a credential change.
type Event struct {
	Provider string
	Op       Op
}

// Mask renders a key for display, keeping only its last four characters.
func Mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
