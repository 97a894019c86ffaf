package usage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/usage"
)

type budgetCall struct {
	delta    float64
	provider string
}

type fakeBudget struct {
	allow bool
	calls []budgetCall
}

func (f *fakeBudget) CheckAndRecord(_ context.Context, delta float64, provider string, _ time.Time) bool {
	f.calls = append(f.calls, budgetCall{delta, provider})
	return f.allow
}

func TestRecorder_RecordsOutcomes(t *testing.T) {
	l := usage.NewLedger(nil)
	defer l.Close()
	budget := &fakeBudget{allow: true}
	rec := usage.NewRecorder(l, budget)

	rec.ObserveOutcome(context.Background(), providers.Outcome{
		At:       time.Now(),
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Usage:    providers.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
		CostUSD:  cost(0.003),
		Success:  true,
		Latency:  1500 * time.Millisecond,
	})
	rec.ObserveOutcome(context.Background(), providers.Outcome{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Success:  false,
		Err:      &providers.AuthError{Provider: "openai", Message: "invalid key"},
	})

	events := l.Events(usage.Range{})
	require.Len(t, events, 2)

	assert.Equal(t, 15, events[0].TotalTokens)
	assert.Equal(t, int64(1500), events[0].LatencyMs)
	assert.InDelta(t, 0.003, events[0].Cost(), 1e-12)
	assert.Empty(t, events[0].ErrorClass)

	assert.False(t, events[1].Success)
	assert.Equal(t, providers.ClassAuthentication, events[1].ErrorClass)
	assert.Nil(t, events[1].EstimatedCostUSD)

	require.Len(t, budget.calls, 1)
	assert.Equal(t, "openai", budget.calls[0].provider)
	assert.InDelta(t, 0.003, budget.calls[0].delta, 1e-12)
}

func TestRecorder_RecordsEvenWhenOverBudget(t *testing.T) {
	l := usage.NewLedger(nil)
	defer l.Close()
	rec := usage.NewRecorder(l, &fakeBudget{allow: false})

	rec.ObserveOutcome(context.Background(), providers.Outcome{Provider: "openai", CostUSD: cost(5), Success: true})
	assert.Equal(t, 1, l.Len())
}
