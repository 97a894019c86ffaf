package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/limits/budget"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/usage"
)

func TestParseSlash(t *testing.T) {
	tests := []struct {
		line    string
		name    string
		arg     string
		isSlash bool
	}{
		{"/reset", "reset", "", true},
		{"/Provider  openai ", "provider", "openai", true},
		{"/model gpt-4o mini", "model", "gpt-4o mini", true},
		{"hello /reset", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, arg, ok := parseSlash(tt.line)
			assert.Equal(t, tt.isSlash, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestDescribeMetadata(t *testing.T) {
	cost := 0.00125
	got := describeMetadata(&providers.ResponseMetadata{
		Provider:         "openai",
		Model:            "gpt-4o-mini",
		Usage:            providers.TokenUsage{PromptTokens: 12, CompletionTokens: 30, Estimated: true},
		EstimatedCostUSD: &cost,
		Latency:          1234 * time.Millisecond,
		ContextIncluded:  true,
	})
	assert.Equal(t, "openai/gpt-4o-mini · ~12+30 tokens · $0.00125 · 1.23s · with context", got)

	got = describeMetadata(&providers.ResponseMetadata{Provider: "local", Model: "llama3"})
	assert.Equal(t, "local/llama3 · 0+0 tokens", got)
}

func TestLastDays(t *testing.T) {
	now := time.Date(2026, 4, 20, 15, 30, 0, 0, time.UTC)

	r := lastDays(7, now)
	assert.Equal(t, time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), r.Start)
	assert.Equal(t, now, r.End)

	r = lastDays(1, now)
	assert.Equal(t, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC), r.Start)

	assert.Equal(t, usage.Range{}, lastDays(0, now))
}

func TestSummaryTable(t *testing.T) {
	summaries := map[string]usage.Summary{
		"openai":    {Requests: 2, PromptTokens: 10, CompletionTokens: 20, CostUSD: 0.5, TotalLatencyMs: 2000},
		"anthropic": {Requests: 1, Failures: 1},
	}
	tbl := summaryTable(summaries, false)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "anthropic", tbl.Rows[0][0])
	assert.Equal(t, []string{"openai", "2", "0", "10", "20", "0.5000", "1s"}, tbl.Rows[1])
	assert.Equal(t, "TOTAL", tbl.Rows[2][0])
	assert.Equal(t, "3", tbl.Rows[2][1])

	byModel := summaryTable(map[string]usage.Summary{usage.AggregateKey("openai", "gpt-4o"): {Requests: 1}}, true)
	require.Len(t, byModel.Rows, 1)
	assert.Equal(t, "openai", byModel.Rows[0][0])
	assert.Equal(t, "gpt-4o", byModel.Rows[0][1])
}

func TestCostChart(t *testing.T) {
	day := time.Date(2026, 4, 19, 0, 0, 0, 0, time.UTC)
	chart := costChart([]usage.DailyCost{
		{Day: day, CostUSD: 0.25},
		{Day: day.AddDate(0, 0, 1), CostUSD: 1},
	}, "openai", 5)
	assert.Contains(t, chart, "openai, 2026-04-19 to 2026-04-20 (total $1.2500)")
}

func TestImportEvents_SkipsKnownIDs(t *testing.T) {
	ledger := usage.NewLedger(nil)
	defer ledger.Close()
	ledger.Append(usage.Event{ID: "a", ProviderID: "openai", Success: true})

	var progress bytes.Buffer
	added := importEvents(ledger, []usage.Event{
		{ID: "a", ProviderID: "openai"},
		{ID: "b", ProviderID: "openai"},
		{ID: "b", ProviderID: "openai"},
		{ProviderID: "anthropic"},
	}, cli.NewProgressReporter(&progress, "events"))

	assert.Equal(t, 2, added)
	assert.Equal(t, 3, ledger.Len())
	assert.Contains(t, progress.String(), "(4/4)")
}

func TestDescribeBudget(t *testing.T) {
	daily, monthly := 2.0, 20.0
	assert.Equal(t, "$2.00/day (alert only)", describeBudget(budget.Budget{DailyUSD: &daily}))
	assert.Equal(t, "$2.00/day $20.00/month (blocking)",
		describeBudget(budget.Budget{DailyUSD: &daily, MonthlyUSD: &monthly, BlockOnExceed: true}))
}

func TestBudgetTable(t *testing.T) {
	limit := 1.0
	reset := time.Date(2026, 4, 21, 0, 0, 0, 0, time.UTC)
	tbl := budgetTable([]budget.Status{{
		Provider: "openai",
		Budget:   budget.Budget{DailyUSD: &limit, BlockOnExceed: true},
		Daily:    budget.PeriodStatus{Period: budget.PeriodDaily, Limit: &limit, Used: 0.9, Percentage: 0.9, Reset: reset},
		Monthly:  budget.PeriodStatus{Period: budget.PeriodMonthly},
	}}, nil)

	require.Len(t, tbl.Rows, 1)
	row := tbl.Rows[0]
	assert.Equal(t, "openai", row[0])
	assert.Equal(t, "daily", row[1])
	assert.Equal(t, "$0.9000", row[2])
	assert.Equal(t, "90%", row[4])
	assert.Equal(t, "block", row[6])
	assert.True(t, strings.HasPrefix(row[5], "2026-04-2"))
}
