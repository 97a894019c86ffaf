// Package registry tracks the configured providers and which one is active.
//
// There is always one local provider. External providers are added and
// removed as their credentials appear and disappear. Switching is
// all-or-nothing: the target is initialized first and only on success is the
// previous provider cleaned up and the choice persisted. Observers receive
// Events on channels returned by Subscribe.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/conduit/pkg/providers"
)

// Sentinel errors.
var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrDuplicate       = errors.New("provider already registered")
	ErrLocalProvider   = errors.New("the local provider cannot be removed")
)

// State persists the registry's choices. *settings.Manager implements it.
type State interface {
	SelectedProvider(ctx context.Context) (string, error)
	SetSelectedProvider(ctx context.Context, id string) error
	SelectedModel(ctx context.Context, providerID string) (string, error)
	SetSelectedModel(ctx context.Context, providerID, model string) error
}

// EventKind identifies a registry change.
type EventKind string

const (
	EventAdded        EventKind = "added"
	EventRemoved      EventKind = "removed"
	EventSwitched     EventKind = "switched"
	EventSwitchFailed EventKind = "switch-failed"
	EventModelChanged EventKind = "model-changed"
)

// Event describes one registry change.
type Event struct {
	Kind     EventKind
	Provider string

	// Previous is the provider that was active before a switch.
	Previous string

	// Model is set for EventModelChanged.
	Model string

	// Err is set for EventSwitchFailed.
	Err error
}

// Registry holds providers by id. It is safe for concurrent use.
type Registry struct {
	// switchMu serializes operations that change the active provider.
	switchMu sync.Mutex

	mu        sync.RWMutex
	providers map[string]providers.Provider
	localID   string
	active    string
	state     State

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	logger *slog.Logger
}

// New creates a registry around the local provider. state may be nil, in
// which case nothing is persisted.
func New(local providers.Provider, state State) *Registry {
	return &Registry{
		providers: map[string]providers.Provider{local.ID(): local},
		localID:   local.ID(),
		state:     state,
		subs:      make(map[int]chan Event),
		logger:    slog.Default().With("component", "registry"),
	}
}

// LocalID returns the id of the local provider.
func (r *Registry) LocalID() string { return r.localID }

// Add registers an external provider. It does not initialize it.
func (r *Registry) Add(p providers.Provider) error {
	r.mu.Lock()
	if _, ok := r.providers[p.ID()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, p.ID())
	}
	r.providers[p.ID()] = p
	r.mu.Unlock()

	r.logger.Info("provider added", "provider", p.ID(), "kind", p.Kind())
	r.publish(Event{Kind: EventAdded, Provider: p.ID()})
	return nil
}

// Remove unregisters a provider and cleans it up. Removing the active
// provider switches to the local one; the removal stands even if the local
// provider then fails to initialize.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if id == r.localID {
		return ErrLocalProvider
	}

	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	r.mu.Lock()
	p, ok := r.providers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	delete(r.providers, id)
	wasActive := r.active == id
	if wasActive {
		r.active = ""
	}
	r.mu.Unlock()

	p.Cleanup()
	r.logger.Info("provider removed", "provider", id, "was_active", wasActive)
	r.publish(Event{Kind: EventRemoved, Provider: id})

	if !wasActive {
		return nil
	}
	if err := r.switchLocked(ctx, r.localID, id); err != nil {
		return fmt.Errorf("removed active provider %q but could not switch to %q: %w", id, r.localID, err)
	}
	return nil
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (providers.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Active returns the active provider, or nil before the first switch.
func (r *Registry) Active() providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil
	}
	return r.providers[r.active]
}

// ActiveID returns the active provider id, or "".
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Providers returns the registered providers, local first and the rest by id.
func (r *Registry) Providers() []providers.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		if id != r.localID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]providers.Provider, 0, len(r.providers))
	out = append(out, r.providers[r.localID])
	for _, id := range ids {
		out = append(out, r.providers[id])
	}
	return out
}

// Descriptors returns a descriptor for every provider in Providers order.
func (r *Registry) Descriptors() []providers.Descriptor {
	ps := r.Providers()
	out := make([]providers.Descriptor, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Descriptor())
	}
	return out
}

// SwitchTo makes id the active provider. The target is initialized before
// the previous provider is cleaned up; if initialization fails nothing
// changes.
func (r *Registry) SwitchTo(ctx context.Context, id string) error {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	return r.switchLocked(ctx, id, r.ActiveID())
}

func (r *Registry) switchLocked(ctx context.Context, id, previous string) error {
	target, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if id == previous && target.IsReady() {
		return nil
	}

	r.restoreModel(ctx, target)
	if err := target.Initialize(ctx); err != nil {
		r.logger.Warn("provider switch failed", "provider", id, "error", err)
		r.publish(Event{Kind: EventSwitchFailed, Provider: id, Previous: previous, Err: err})
		return err
	}

	r.mu.Lock()
	if _, still := r.providers[id]; !still {
		r.mu.Unlock()
		target.Cleanup()
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	r.active = id
	prev := r.providers[previous]
	r.mu.Unlock()

	if prev != nil && previous != id {
		prev.Cleanup()
	}
	if r.state != nil {
		if err := r.state.SetSelectedProvider(ctx, id); err != nil {
			r.logger.Warn("failed to persist selected provider", "provider", id, "error", err)
		}
	}

	r.logger.Info("active provider changed", "provider", id, "previous", previous)
	r.publish(Event{Kind: EventSwitched, Provider: id, Previous: previous})
	return nil
}

func (r *Registry) restoreModel(ctx context.Context, p providers.Provider) {
	if r.state == nil {
		return
	}
	model, err := r.state.SelectedModel(ctx, p.ID())
	if err != nil || model == "" {
		return
	}
	if err := p.SelectModel(model); err != nil {
		r.logger.Debug("persisted model not applied", "provider", p.ID(), "model", model, "error", err)
	}
}

// Restore activates a provider at startup: the persisted choice if it is
// registered and initializes, else the first external provider that
// initializes (a configured key is preferred over the free local default),
// else the local provider.
func (r *Registry) Restore(ctx context.Context) error {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	var candidates []string
	if r.state != nil {
		persisted, err := r.state.SelectedProvider(ctx)
		if err != nil {
			r.logger.Warn("failed to read persisted provider", "error", err)
		}
		if _, ok := r.Get(persisted); ok && persisted != "" {
			candidates = append(candidates, persisted)
		}
	}
	for _, p := range r.Providers() {
		if p.Kind() == providers.KindExternal {
			candidates = append(candidates, p.ID())
		}
	}
	candidates = append(candidates, r.localID)

	var errs []error
	tried := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if tried[id] {
			continue
		}
		tried[id] = true
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := r.switchLocked(ctx, id, r.ActiveID())
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	return fmt.Errorf("no provider could be activated: %w", errors.Join(errs...))
}

// SelectModel selects a model on a provider and persists the choice.
func (r *Registry) SelectModel(ctx context.Context, providerID, model string) error {
	p, ok := r.Get(providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	if err := p.SelectModel(model); err != nil {
		return err
	}
	if r.state != nil {
		if err := r.state.SetSelectedModel(ctx, providerID, model); err != nil {
			return fmt.Errorf("failed to persist model selection: %w", err)
		}
	}
	r.publish(Event{Kind: EventModelChanged, Provider: providerID, Model: model})
	return nil
}

// Close cleans up every provider and closes all subscriptions.
func (r *Registry) Close() {
	for _, p := range r.Providers() {
		p.Cleanup()
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}
