package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/usage"
)

// Spend reports recorded cost. *usage.Ledger implements it.
type Spend interface {
	CostFor(providerID string, r usage.Range) float64
}

// Enforcer checks pending costs against per-provider budgets.
// It is safe for concurrent use.
type Enforcer struct {
	spend   Spend
	store   Store
	alerter Alerter
	logger  *slog.Logger

	mu      sync.RWMutex
	budgets map[string]Budget
	seeded  map[string]Budget

	alertMu sync.Mutex
	alerted map[string]struct{}
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithAlerter sets where alerts are delivered. The default logs them.
func WithAlerter(a Alerter) Option {
	return func(e *Enforcer) { e.alerter = a }
}

// NewEnforcer creates an Enforcer reading spend from spend. store may be nil
// for budgets that live only in memory.
func NewEnforcer(spend Spend, store Store, opts ...Option) *Enforcer {
	e := &Enforcer{
		spend:   spend,
		store:   store,
		alerter: NewLogAlerter(),
		logger:  slog.Default().With("component", "budget.enforcer"),
		budgets: make(map[string]Budget),
		seeded:  make(map[string]Budget),
		alerted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load reads the stored budgets. Stored budgets take precedence over seeded
// ones.
func (e *Enforcer) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	stored, err := e.store.Budgets(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.budgets = stored
	e.mu.Unlock()
	e.logger.Debug("budgets loaded", "count", len(stored))
	return nil
}

// Seed sets the configured budgets. They apply to providers without a
// stored budget and are replaced wholesale on every call, so a reloaded
// configuration takes effect.
func (e *Enforcer) Seed(budgets map[string]config.BudgetConfig) {
	seeded := make(map[string]Budget, len(budgets))
	for id, c := range budgets {
		b := FromConfig(c)
		if err := b.Validate(); err != nil {
			e.logger.Warn("ignoring invalid configured budget", "provider", id, "error", err)
			continue
		}
		if !b.IsZero() {
			seeded[id] = b
		}
	}
	e.mu.Lock()
	e.seeded = seeded
	e.mu.Unlock()
}

// Budget returns the budget in effect for provider.
func (e *Enforcer) Budget(provider string) (Budget, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if b, ok := e.budgets[provider]; ok && !b.IsZero() {
		return b, true
	}
	b, ok := e.seeded[provider]
	return b, ok
}

// SetBudget stores and applies a budget. A budget with no caps removes the
// provider's budget.
func (e *Enforcer) SetBudget(ctx context.Context, provider string, b Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.IsZero() {
		return e.ClearBudget(ctx, provider)
	}
	if e.store != nil {
		if err := e.store.SetBudget(ctx, provider, b); err != nil {
			return fmt.Errorf("failed to save budget: %w", err)
		}
	}
	e.mu.Lock()
	e.budgets[provider] = b
	e.mu.Unlock()
	e.resetAlerts(provider)

	e.logger.Info("budget updated", "provider", provider, "block_on_exceed", b.BlockOnExceed)
	return nil
}

// ClearBudget removes the stored budget for provider. A seeded budget
// applies again afterwards.
func (e *Enforcer) ClearBudget(ctx context.Context, provider string) error {
	if e.store != nil {
		if err := e.store.DeleteBudget(ctx, provider); err != nil {
			return fmt.Errorf("failed to delete budget: %w", err)
		}
	}
	e.mu.Lock()
	delete(e.budgets, provider)
	e.mu.Unlock()
	e.resetAlerts(provider)
	return nil
}

// Providers returns the providers with a budget, sorted.
func (e *Enforcer) Providers() []string {
	e.mu.RLock()
	seen := make(map[string]struct{}, len(e.budgets)+len(e.seeded))
	for id, b := range e.budgets {
		if !b.IsZero() {
			seen[id] = struct{}{}
		}
	}
	for id := range e.seeded {
		seen[id] = struct{}{}
	}
	e.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckAndRecord reports whether a cost of deltaUSD may be recorded for
// provider. Exceeding a cap raises an alert; the result is false only when
// the budget blocks on exceed.
func (e *Enforcer) CheckAndRecord(ctx context.Context, deltaUSD float64, provider string, now time.Time) bool {
	return e.check(ctx, deltaUSD, provider, now) == nil
}

// Preflight checks an estimated cost before a request is sent and returns
// an *ExceededError when the budget blocks it.
func (e *Enforcer) Preflight(ctx context.Context, estimateUSD float64, provider string, now time.Time) error {
	return e.check(ctx, estimateUSD, provider, now)
}

func (e *Enforcer) check(ctx context.Context, delta float64, provider string, now time.Time) error {
	b, ok := e.Budget(provider)
	if !ok || delta <= 0 {
		return nil
	}

	for _, p := range []Period{PeriodDaily, PeriodMonthly} {
		limit := b.Limit(p)
		if limit == nil {
			continue
		}
		spent := e.spend.CostFor(provider, usage.Range{Start: p.Start(now), End: now}) + delta
		if spent <= *limit {
			continue
		}

		alert := Alert{
			Provider: provider,
			Period:   p,
			Limit:    *limit,
			Spent:    spent,
			Blocked:  b.BlockOnExceed,
			At:       now,
		}
		e.raise(ctx, alert)

		if b.BlockOnExceed {
			return &ExceededError{Provider: provider, Period: p, Limit: *limit, Spent: spent}
		}
	}
	return nil
}

func (e *Enforcer) raise(ctx context.Context, a Alert) {
	if !a.Blocked {
		key := fmt.Sprintf("%s|%s|%s", a.Provider, a.Period, a.Period.Start(a.At).Format("2006-01-02"))
		e.alertMu.Lock()
		_, dup := e.alerted[key]
		e.alerted[key] = struct{}{}
		e.alertMu.Unlock()
		if dup {
			return
		}
	}
	if err := e.alerter.Alert(ctx, a); err != nil {
		e.logger.Warn("failed to deliver budget alert", "provider", a.Provider, "error", err)
	}
}

func (e *Enforcer) resetAlerts(provider string) {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()
	for key := range e.alerted {
		if len(key) > len(provider) && key[:len(provider)+1] == provider+"|" {
			delete(e.alerted, key)
		}
	}
}

// Status returns the budget and spend of provider.
func (e *Enforcer) Status(provider string, now time.Time) (Status, bool) {
	b, ok := e.Budget(provider)
	if !ok {
		return Status{}, false
	}
	return Status{
		Provider: provider,
		Budget:   b,
		Daily:    e.periodStatus(provider, b, PeriodDaily, now),
		Monthly:  e.periodStatus(provider, b, PeriodMonthly, now),
	}, true
}

// StatusAll returns the status of every provider with a budget.
func (e *Enforcer) StatusAll(now time.Time) []Status {
	var out []Status
	for _, id := range e.Providers() {
		if s, ok := e.Status(id, now); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Enforcer) periodStatus(provider string, b Budget, p Period, now time.Time) PeriodStatus {
	s := PeriodStatus{
		Period: p,
		Limit:  b.Limit(p),
		Used:   e.spend.CostFor(provider, usage.Range{Start: p.Start(now), End: now}),
		Reset:  p.Reset(now),
	}
	if s.Limit != nil {
		if rem := *s.Limit - s.Used; rem > 0 {
			s.Remaining = rem
		}
		if *s.Limit > 0 {
			s.Percentage = s.Used / *s.Limit
		}
	}
	return s
}

var _ usage.BudgetChecker = (*Enforcer)(nil)
