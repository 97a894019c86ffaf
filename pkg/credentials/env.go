package credentials

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// EnvStore reads keys from environment variables named Prefix plus the
// upper-cased provider id with '-' replaced by '_'. Values from dotenv
// files are used when the variable is not set in the process environment.
// EnvStore is read-only.
type EnvStore struct {
	prefix string
	dotenv map[string]string
	lookup func(string) (string, bool)
}

// NewEnvStore creates an EnvStore. Missing dotenv files are skipped.
func NewEnvStore(prefix string, dotenvFiles ...string) (*EnvStore, error) {
	s := &EnvStore{
		prefix: prefix,
		dotenv: make(map[string]string),
		lookup: os.LookupEnv,
	}
	for _, path := range dotenvFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for k, v := range values {
			if _, exists := s.dotenv[k]; !exists {
				s.dotenv[k] = v
			}
		}
	}
	return s, nil
}

// VarName returns the environment variable consulted for providerID.
func (s *EnvStore) VarName(providerID string) string {
	return s.prefix + strings.ToUpper(strings.ReplaceAll(providerID, "-", "_"))
}

func (s *EnvStore) value(name string) string {
	if v, ok := s.lookup(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.dotenv[name])
}

// Get implements Store.
func (s *EnvStore) Get(_ context.Context, providerID string) (string, error) {
	if v := s.value(s.VarName(providerID)); v != "" {
		return v, nil
	}
	return "", ErrNotFound
}

// Has implements Store.
func (s *EnvStore) Has(ctx context.Context, providerID string) (bool, error) {
	v, _ := s.Get(ctx, providerID)
	return v != "", nil
}

// Set implements Store. It always fails.
func (s *EnvStore) Set(context.Context, string, string) error { return ErrReadOnly }

// Delete implements Store. It always fails.
func (s *EnvStore) Delete(context.Context, string) error { return ErrReadOnly }

// List implements Store.
func (s *EnvStore) List(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	add := func(name string) {
		if !strings.HasPrefix(name, s.prefix) || s.value(name) == "" {
			return
		}
		id := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, s.prefix), "_", "-"))
		if ValidateID(id) == nil {
			seen[id] = true
		}
	}
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		add(name)
	}
	for name := range s.dotenv {
		add(name)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
