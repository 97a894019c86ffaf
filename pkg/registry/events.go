package registry

import (
	"context"
	"errors"

	"mercator-hq/conduit/pkg/credentials"
	"mercator-hq/conduit/pkg/providers"
)

// Subscribe returns a channel of registry events and a function that ends
// the subscription. Events are dropped for subscribers whose buffer is full.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
	}
}

func (r *Registry) publish(e Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
			r.logger.Debug("dropping registry event for slow subscriber", "kind", e.Kind, "provider", e.Provider)
		}
	}
}

// Builder creates the provider for a provider id whose credential appeared.
// It returns ErrUnknownProvider when no provider is configured for the id.
type Builder func(id string) (providers.Provider, error)

// WatchCredentials applies credential changes until ctx is done or events
// is closed. An added key registers the provider built by build; a removed
// key unregisters it. A changed key for the active provider re-initializes
// it so the new key takes effect.
func (r *Registry) WatchCredentials(ctx context.Context, events <-chan credentials.Event, build Builder) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.applyCredentialEvent(ctx, ev, build)
		}
	}
}

func (r *Registry) applyCredentialEvent(ctx context.Context, ev credentials.Event, build Builder) {
	if ev.Provider == r.localID {
		return
	}
	log := r.logger.With("provider", ev.Provider, "op", ev.Op)

	switch ev.Op {
	case credentials.OpAdded, credentials.OpUpdated:
		if _, exists := r.Get(ev.Provider); exists {
			if err := r.refresh(ctx, ev.Provider); err != nil {
				log.Warn("failed to re-initialize provider with new key", "error", err)
			}
			return
		}
		p, err := build(ev.Provider)
		if errors.Is(err, ErrUnknownProvider) {
			log.Debug("ignoring key for unconfigured provider")
			return
		}
		if err != nil {
			log.Warn("failed to build provider for new key", "error", err)
			return
		}
		if err := r.Add(p); err != nil {
			log.Warn("failed to add provider", "error", err)
		}

	case credentials.OpRemoved:
		err := r.Remove(ctx, ev.Provider)
		if err != nil && !errors.Is(err, ErrUnknownProvider) {
			log.Warn("failed to remove provider", "error", err)
		}
	}
}

// refresh drops a provider's initialized state. The active provider is
// initialized again at once; others initialize on their next switch.
func (r *Registry) refresh(ctx context.Context, id string) error {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	p, ok := r.Get(id)
	if !ok {
		return ErrUnknownProvider
	}
	p.Cleanup()
	if r.ActiveID() != id {
		return nil
	}
	return p.Initialize(ctx)
}
