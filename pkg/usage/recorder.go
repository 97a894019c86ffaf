package usage

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/conduit/pkg/providers"
)

// BudgetChecker is consulted with the cost of each operation before it is
// recorded. It returns false when the spend is over a blocking cap.
type BudgetChecker interface {
	CheckAndRecord(ctx context.Context, deltaUSD float64, providerID string, now time.Time) bool
}

// Recorder appends provider outcomes to a Ledger.
type Recorder struct {
	ledger *Ledger
	budget BudgetChecker
	logger *slog.Logger
}

// NewRecorder creates a Recorder. budget may be nil.
func NewRecorder(ledger *Ledger, budget BudgetChecker) *Recorder {
	return &Recorder{
		ledger: ledger,
		budget: budget,
		logger: slog.Default().With("component", "usage.recorder"),
	}
}

// ObserveOutcome implements providers.OutcomeObserver. The operation has
// already happened, so an over-budget result only raises the alert; the
// event is recorded regardless.
func (r *Recorder) ObserveOutcome(ctx context.Context, o providers.Outcome) {
	e := EventFromOutcome(o)
	if r.budget != nil && e.Cost() > 0 {
		if !r.budget.CheckAndRecord(ctx, e.Cost(), e.ProviderID, e.Timestamp) {
			r.logger.Warn("recorded usage over a blocking budget",
				"provider", e.ProviderID,
				"cost_usd", e.Cost(),
			)
		}
	}
	e = r.ledger.Append(e)
	r.logger.Debug("usage recorded",
		"id", e.ID,
		"provider", e.ProviderID,
		"model", e.ModelID,
		"success", e.Success,
		"total_tokens", e.TotalTokens,
	)
}

var _ providers.OutcomeObserver = (*Recorder)(nil)
