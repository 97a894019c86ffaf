package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Keys of persisted state.
const (
	KeySelectedProvider = "registry.selected_provider"
	modelKeyPrefix      = "provider."
	modelKeySuffix      = ".model"
)

// ModelKey returns the key holding the selected model of a provider.
func ModelKey(providerID string) string {
	return modelKeyPrefix + providerID + modelKeySuffix
}

// Manager layers definitions and defaults over a Store.
type Manager struct {
	store  Store
	defs   map[string]Definition
	order  []string
	logger *slog.Logger
}

// NewManager creates a Manager. With no definitions, Defaults is used.
func NewManager(store Store, defs ...Definition) *Manager {
	if len(defs) == 0 {
		defs = Defaults()
	}
	m := &Manager{
		store:  store,
		defs:   make(map[string]Definition, len(defs)),
		logger: slog.Default().With("component", "settings"),
	}
	for _, d := range defs {
		if _, dup := m.defs[d.Key]; !dup {
			m.order = append(m.order, d.Key)
		}
		m.defs[d.Key] = d
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Definitions returns the known settings in declaration order.
func (m *Manager) Definitions() []Definition {
	out := make([]Definition, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.defs[k])
	}
	return out
}

// Definition returns the definition of key.
func (m *Manager) Definition(key string) (Definition, bool) {
	d, ok := m.defs[key]
	return d, ok
}

// Get returns the stored value of key, the default for a defined key with
// nothing stored, or ErrNotFound. A stored value that no longer fits its
// definition is ignored in favor of the default.
func (m *Manager) Get(ctx context.Context, key string) (Value, error) {
	v, err := m.store.Get(ctx, key)
	def, defined := m.defs[key]
	switch {
	case err == nil:
		if defined {
			if verr := def.Validate(v); verr != nil {
				m.logger.Warn("ignoring stored setting", "key", key, "error", verr)
				return def.Default, nil
			}
		}
		return v, nil
	case errors.Is(err, ErrNotFound) && defined:
		return def.Default, nil
	default:
		return Value{}, err
	}
}

// Set validates v against key's definition, if any, and stores it.
func (m *Manager) Set(ctx context.Context, key string, v Value) error {
	if def, ok := m.defs[key]; ok {
		if err := def.Validate(v); err != nil {
			return err
		}
	}
	return m.store.Set(ctx, key, v)
}

// SetText parses text according to key's definition and stores it.
// Undefined keys are stored as strings.
func (m *Manager) SetText(ctx context.Context, key, text string) error {
	def, ok := m.defs[key]
	if !ok {
		return m.store.Set(ctx, key, String(text))
	}
	v, err := Parse(def.Default, text)
	if err != nil {
		return &ValidationError{Key: key, Message: err.Error()}
	}
	return m.Set(ctx, key, v)
}

// Reset removes the stored value so the default applies again.
func (m *Manager) Reset(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

// Int returns a number setting as an int, or fallback when unavailable.
func (m *Manager) Int(ctx context.Context, key string, fallback int) int {
	v, err := m.Get(ctx, key)
	if err != nil {
		return fallback
	}
	n, ok := v.AsNumber()
	if !ok {
		return fallback
	}
	return int(n)
}

// Bool returns a bool setting, or fallback when unavailable.
func (m *Manager) Bool(ctx context.Context, key string, fallback bool) bool {
	v, err := m.Get(ctx, key)
	if err != nil {
		return fallback
	}
	b, ok := v.AsBool()
	if !ok {
		return fallback
	}
	return b
}

// Text returns a string or choice setting, or fallback when unavailable.
func (m *Manager) Text(ctx context.Context, key, fallback string) string {
	v, err := m.Get(ctx, key)
	if err != nil {
		return fallback
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	if s, ok := v.AsChoice(); ok {
		return s
	}
	return fallback
}

// SelectedProvider returns the persisted active provider id, or "" when
// none has been chosen.
func (m *Manager) SelectedProvider(ctx context.Context) (string, error) {
	return m.stringState(ctx, KeySelectedProvider)
}

// SetSelectedProvider persists the active provider id.
func (m *Manager) SetSelectedProvider(ctx context.Context, id string) error {
	return m.store.Set(ctx, KeySelectedProvider, String(id))
}

// SelectedModel returns the persisted model of a provider, or "".
func (m *Manager) SelectedModel(ctx context.Context, providerID string) (string, error) {
	return m.stringState(ctx, ModelKey(providerID))
}

// SetSelectedModel persists the model of a provider.
func (m *Manager) SetSelectedModel(ctx context.Context, providerID, model string) error {
	return m.store.Set(ctx, ModelKey(providerID), String(model))
}

func (m *Manager) stringState(ctx context.Context, key string) (string, error) {
	v, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("setting %q holds a %s, expected a string", key, v.Kind())
	}
	return s, nil
}

// Entry is a setting with its effective value, for listing.
type Entry struct {
	Key     string
	Value   Value
	Default bool
	Def     *Definition
}

// All returns every defined setting plus every stored key, sorted by key.
func (m *Manager) All(ctx context.Context) ([]Entry, error) {
	stored, err := m.store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored)+len(m.defs))
	var out []Entry
	for _, key := range m.order {
		def := m.defs[key]
		v, isStored := stored[key]
		if !isStored || def.Validate(v) != nil {
			v = def.Default
			isStored = false
		}
		out = append(out, Entry{Key: key, Value: v, Default: !isStored, Def: &def})
		seen[key] = true
	}
	for key, v := range stored {
		if seen[key] {
			continue
		}
		out = append(out, Entry{Key: key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}
