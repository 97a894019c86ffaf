package settings

import (
	"fmt"
	"math"
	"slices"
)

// Keys of the built-in settings.
const (
	KeyHistoryWindow  = "conversation.history_window"
	KeyIncludeContext = "conversation.include_context"
	KeySystemPrompt   = "conversation.system_prompt"
	KeyAlertChannel   = "alerts.channel"
	KeyRetentionDays  = "usage.retention_days"
)

// Alert channel options.
const (
	AlertChannelLog     = "log"
	AlertChannelDesktop = "desktop"
	AlertChannelOff     = "off"
)

// Definition describes a known setting.
type Definition struct {
	Key         string
	Label       string
	Description string
	Default     Value

	// Min and Max bound number settings when non-nil.
	Min, Max *float64

	// Integer restricts number settings to whole numbers.
	Integer bool
}

// Validate reports whether v is acceptable for d.
func (d Definition) Validate(v Value) error {
	if v.Kind() != d.Default.Kind() {
		return &ValidationError{Key: d.Key, Message: fmt.Sprintf("expected a %s, got a %s", d.Default.Kind(), v.Kind())}
	}
	switch v.Kind() {
	case KindNumber:
		n, _ := v.AsNumber()
		if d.Integer && n != math.Trunc(n) {
			return &ValidationError{Key: d.Key, Message: "must be a whole number"}
		}
		if d.Min != nil && n < *d.Min {
			return &ValidationError{Key: d.Key, Message: fmt.Sprintf("must be at least %g", *d.Min)}
		}
		if d.Max != nil && n > *d.Max {
			return &ValidationError{Key: d.Key, Message: fmt.Sprintf("must be at most %g", *d.Max)}
		}
	case KindChoice:
		sel, _ := v.AsChoice()
		if !slices.Contains(d.Default.Options(), sel) {
			return &ValidationError{Key: d.Key, Message: fmt.Sprintf("%q is not an allowed option", sel)}
		}
	}
	return nil
}

// ValidationError reports a rejected setting write.
type ValidationError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Key, e.Message)
}

func bound(f float64) *float64 { return &f }

// Defaults returns the built-in setting definitions.
func Defaults() []Definition {
	return []Definition{
		{
			Key:         KeyHistoryWindow,
			Label:       "History window",
			Description: "Number of prior messages sent with each query.",
			Default:     Number(10),
			Min:         bound(0),
			Max:         bound(100),
			Integer:     true,
		},
		{
			Key:         KeyIncludeContext,
			Label:       "Include page context",
			Description: "Attach extracted page text to queries.",
			Default:     Bool(true),
		},
		{
			Key:         KeySystemPrompt,
			Label:       "System prompt",
			Description: "Instruction prepended to every conversation.",
			Default:     String(""),
		},
		{
			Key:         KeyAlertChannel,
			Label:       "Budget alerts",
			Description: "Where budget alerts are delivered.",
			Default:     Choice(AlertChannelLog, AlertChannelLog, AlertChannelDesktop, AlertChannelOff),
		},
		{
			Key:         KeyRetentionDays,
			Label:       "Usage retention (days)",
			Description: "Usage events older than this are pruned. 0 keeps everything.",
			Default:     Number(0),
			Min:         bound(0),
			Integer:     true,
		},
	}
}
