package budget

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Alerter delivers budget alerts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, a Alert) error

// Alert calls f.
func (f AlerterFunc) Alert(ctx context.Context, a Alert) error { return f(ctx, a) }

// LogAlerter logs alerts at warn level.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter on the default logger.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: slog.Default().With("component", "budget.alert")}
}

// Alert logs a.
func (l *LogAlerter) Alert(ctx context.Context, a Alert) error {
	l.logger.WarnContext(ctx, "budget exceeded",
		"provider", a.Provider,
		"period", a.Period,
		"limit_usd", a.Limit,
		"spent_usd", a.Spent,
		"blocked", a.Blocked,
	)
	return nil
}

// DesktopAlerter shows alerts as desktop notifications.
type DesktopAlerter struct {
	notify func(title, message string) error
}

// NewDesktopAlerter creates a DesktopAlerter.
func NewDesktopAlerter() *DesktopAlerter {
	return &DesktopAlerter{notify: func(title, message string) error {
		return beeep.Notify(title, message, "")
	}}
}

// Alert shows a notification for a.
func (d *DesktopAlerter) Alert(_ context.Context, a Alert) error {
	return d.notify("Budget alert", a.Message())
}

// MultiAlerter delivers to every alerter and joins their errors.
type MultiAlerter []Alerter

// Alert delivers a to each alerter in order.
func (m MultiAlerter) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		errs = append(errs, al.Alert(ctx, a))
	}
	return errors.Join(errs...)
}
