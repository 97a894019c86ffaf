package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mercator-hq/conduit/pkg/settings"
)

const (
	keyPrefix     = "budget."
	suffixDaily   = ".daily_usd"
	suffixMonthly = ".monthly_usd"
	suffixBlock   = ".block_on_exceed"
)

// Store persists budgets.
type Store interface {
	Budgets(ctx context.Context) (map[string]Budget, error)
	SetBudget(ctx context.Context, provider string, b Budget) error
	DeleteBudget(ctx context.Context, provider string) error
}

// SettingsStore keeps budgets in a settings.Store.
type SettingsStore struct {
	store settings.Store
}

// NewSettingsStore creates a Store backed by s.
func NewSettingsStore(s settings.Store) *SettingsStore {
	return &SettingsStore{store: s}
}

// Budgets returns every stored budget keyed by provider.
func (s *SettingsStore) Budgets(ctx context.Context) (map[string]Budget, error) {
	values, err := s.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}

	out := make(map[string]Budget)
	for key, v := range values {
		rest := strings.TrimPrefix(key, keyPrefix)
		var provider, suffix string
		for _, sfx := range []string{suffixDaily, suffixMonthly, suffixBlock} {
			if strings.HasSuffix(rest, sfx) {
				provider, suffix = strings.TrimSuffix(rest, sfx), sfx
				break
			}
		}
		if provider == "" {
			continue
		}

		b := out[provider]
		switch suffix {
		case suffixDaily:
			if n, ok := v.AsNumber(); ok {
				b.DailyUSD = &n
			}
		case suffixMonthly:
			if n, ok := v.AsNumber(); ok {
				b.MonthlyUSD = &n
			}
		case suffixBlock:
			if on, ok := v.AsBool(); ok {
				b.BlockOnExceed = on
			}
		}
		out[provider] = b
	}
	return out, nil
}

// SetBudget replaces the stored budget for provider. Nil caps are removed.
func (s *SettingsStore) SetBudget(ctx context.Context, provider string, b Budget) error {
	prefix := keyPrefix + provider
	if err := setOrDelete(ctx, s.store, prefix+suffixDaily, b.DailyUSD); err != nil {
		return err
	}
	if err := setOrDelete(ctx, s.store, prefix+suffixMonthly, b.MonthlyUSD); err != nil {
		return err
	}
	return s.store.Set(ctx, prefix+suffixBlock, settings.Bool(b.BlockOnExceed))
}

// DeleteBudget removes the stored budget for provider.
func (s *SettingsStore) DeleteBudget(ctx context.Context, provider string) error {
	prefix := keyPrefix + provider
	var errs []error
	for _, sfx := range []string{suffixDaily, suffixMonthly, suffixBlock} {
		errs = append(errs, s.store.Delete(ctx, prefix+sfx))
	}
	return errors.Join(errs...)
}

func setOrDelete(ctx context.Context, s settings.Store, key string, v *float64) error {
	if v == nil {
		return s.Delete(ctx, key)
	}
	return s.Set(ctx, key, settings.Number(*v))
}
