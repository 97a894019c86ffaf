package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/conduit/pkg/providers"
)

// ActiveSource returns the active provider. *registry.Registry implements it.
type ActiveSource interface {
	Active() providers.Provider
}

// ActiveProviderCheck fails when no provider is active or the active one
// is not ready.
func ActiveProviderCheck(src ActiveSource) CheckFunc {
	return func(context.Context) error {
		p := src.Active()
		if p == nil {
			return errors.New("no active provider")
		}
		if !p.IsReady() {
			return fmt.Errorf("provider %s is not ready", p.ID())
		}
		return nil
	}
}

// ProviderCheck validates the configuration of p without network I/O.
func ProviderCheck(p providers.Provider) CheckFunc {
	return func(context.Context) error {
		if err := p.ValidateConfiguration(); err != nil {
			return err
		}
		if !p.IsReady() {
			return fmt.Errorf("provider %s is not ready", p.ID())
		}
		return nil
	}
}
