package budget

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/providers"
)

// Period is a budget window.
type Period string

const (
	// PeriodDaily runs from local midnight to now.
	PeriodDaily Period = "daily"

	// PeriodMonthly runs from the first of the month to now.
	PeriodMonthly Period = "monthly"
)

// Start returns the beginning of the period containing now.
func (p Period) Start(now time.Time) time.Time {
	y, m, d := now.Date()
	if p == PeriodMonthly {
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	}
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// Reset returns when the period containing now ends.
func (p Period) Reset(now time.Time) time.Time {
	if p == PeriodMonthly {
		return p.Start(now).AddDate(0, 1, 0)
	}
	return p.Start(now).AddDate(0, 0, 1)
}

// Budget is a provider's spending cap. A nil cap is unlimited.
type Budget struct {
	DailyUSD      *float64 `json:"dailyUSD,omitempty"`
	MonthlyUSD    *float64 `json:"monthlyUSD,omitempty"`
	BlockOnExceed bool     `json:"blockOnExceed"`
}

// FromConfig converts a configured budget.
func FromConfig(c config.BudgetConfig) Budget {
	return Budget{DailyUSD: c.DailyUSD, MonthlyUSD: c.MonthlyUSD, BlockOnExceed: c.BlockOnExceed}
}

// IsZero reports whether the budget has no caps.
func (b Budget) IsZero() bool {
	return b.DailyUSD == nil && b.MonthlyUSD == nil
}

// Limit returns the cap for p.
func (b Budget) Limit(p Period) *float64 {
	if p == PeriodMonthly {
		return b.MonthlyUSD
	}
	return b.DailyUSD
}

// Validate rejects negative caps.
func (b Budget) Validate() error {
	if b.DailyUSD != nil && *b.DailyUSD < 0 {
		return errors.New("daily budget cannot be negative")
	}
	if b.MonthlyUSD != nil && *b.MonthlyUSD < 0 {
		return errors.New("monthly budget cannot be negative")
	}
	return nil
}

// PeriodStatus is the spend within one period.
type PeriodStatus struct {
	Period Period

	// Limit is the cap in USD, or nil when the period is uncapped.
	Limit *float64

	// Used is the spend in USD since the period started.
	Used float64

	// Remaining is the budget left, never negative. Zero when uncapped.
	Remaining float64

	// Percentage is Used/Limit (0.0-1.0+). Zero when uncapped.
	Percentage float64

	// Reset is when the period ends.
	Reset time.Time
}

// Exceeded reports whether the spend is over the cap.
func (s PeriodStatus) Exceeded() bool {
	return s.Limit != nil && s.Used > *s.Limit
}

// Status is a provider's budget and spend.
type Status struct {
	Provider string
	Budget   Budget
	Daily    PeriodStatus
	Monthly  PeriodStatus
}

// Exceeded reports whether either period is over its cap.
func (s Status) Exceeded() bool {
	return s.Daily.Exceeded() || s.Monthly.Exceeded()
}

// Alert is raised when spend exceeds a cap.
type Alert struct {
	Provider string
	Period   Period
	Limit    float64

	// Spent includes the pending cost that triggered the alert.
	Spent float64

	// Blocked is true when the request was rejected.
	Blocked bool

	At time.Time
}

// Message returns a human-readable description of the alert.
func (a Alert) Message() string {
	verb := "exceeded"
	if a.Blocked {
		verb = "would exceed"
	}
	return fmt.Sprintf("%s %s budget %s: $%.2f of $%.2f", a.Provider, a.Period, verb, a.Spent, a.Limit)
}

// ExceededError is returned when a request is blocked by a budget.
type ExceededError struct {
	Provider string
	Period   Period
	Limit    float64
	Spent    float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for %s: %s spend $%.4f over cap $%.2f", e.Provider, e.Period, e.Spent, e.Limit)
}

// ErrorClass implements providers.Classifier.
func (e *ExceededError) ErrorClass() providers.ErrorClass {
	return providers.ClassBudget
}

var _ providers.Classifier = (*ExceededError)(nil)
