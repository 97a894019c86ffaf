package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "resilience.max_attempts").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidProviderTypes lists the adapters a provider entry may select.
var ValidProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"generic":   true,
	"ollama":    true,
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateProviders(cfg.Providers)...)
	errs = append(errs, validateResilience(&cfg.Resilience)...)
	errs = append(errs, validateUsage(&cfg.Usage)...)
	errs = append(errs, validateBudgets(cfg.Budgets)...)
	errs = append(errs, validateCosts(&cfg.Costs)...)

	if cfg.Conversation.HistoryWindow < 0 {
		errs = append(errs, FieldError{
			Field:   "conversation.history_window",
			Message: "history window cannot be negative",
		})
	}
	if cfg.Conversation.MaxHeapMB < 0 {
		errs = append(errs, FieldError{
			Field:   "conversation.max_heap_mb",
			Message: "max heap cannot be negative",
		})
	}

	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// validateProviders validates provider configuration. Exactly one enabled
// provider must be of the local "ollama" type.
func validateProviders(providers map[string]ProviderConfig) []FieldError {
	var errs []FieldError

	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locals := 0
	for _, id := range ids {
		p := providers[id]
		prefix := fmt.Sprintf("providers.%s", id)

		if id == "" || strings.ContainsAny(id, " /:") {
			errs = append(errs, FieldError{
				Field:   prefix,
				Message: "provider id must be non-empty and contain no spaces, slashes or colons",
			})
		}
		if !ValidProviderTypes[p.Type] {
			errs = append(errs, FieldError{
				Field:   prefix + ".type",
				Message: fmt.Sprintf("unknown provider type %q", p.Type),
			})
		}
		if p.Type == "generic" && p.BaseURL == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".base_url",
				Message: "base URL is required for generic providers",
			})
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, FieldError{
					Field:   prefix + ".base_url",
					Message: fmt.Sprintf("invalid URL %q", p.BaseURL),
				})
			}
		}
		if p.Timeout < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".timeout",
				Message: "timeout cannot be negative",
			})
		}
		if p.MinInterval < 0 {
			errs = append(errs, FieldError{
				Field:   prefix + ".min_interval",
				Message: "minimum interval cannot be negative",
			})
		}
		if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
			errs = append(errs, FieldError{
				Field:   prefix + ".temperature",
				Message: "temperature must be between 0 and 2",
			})
		}
		if p.Type == "ollama" && !p.Disabled {
			locals++
		}
	}

	if locals != 1 {
		errs = append(errs, FieldError{
			Field:   "providers",
			Message: fmt.Sprintf("exactly one enabled local (ollama) provider is required, found %d", locals),
		})
	}
	return errs
}

func validateResilience(cfg *ResilienceConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "resilience.max_attempts", Message: "must be at least 1"})
	}
	if cfg.BaseBackoff <= 0 {
		errs = append(errs, FieldError{Field: "resilience.base_backoff", Message: "must be positive"})
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		errs = append(errs, FieldError{Field: "resilience.max_backoff", Message: "must not be less than base_backoff"})
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction > 1 {
		errs = append(errs, FieldError{Field: "resilience.jitter_fraction", Message: "must be between 0.0 and 1.0"})
	}
	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "resilience.failure_threshold", Message: "must be at least 1"})
	}
	if cfg.Cooldown <= 0 {
		errs = append(errs, FieldError{Field: "resilience.cooldown", Message: "must be positive"})
	}
	if cfg.MinInterval < 0 {
		errs = append(errs, FieldError{Field: "resilience.min_interval", Message: "cannot be negative"})
	}
	return errs
}

func validateUsage(cfg *UsageConfig) []FieldError {
	var errs []FieldError

	if cfg.SQLitePath == "" {
		errs = append(errs, FieldError{Field: "usage.sqlite_path", Message: "usage database path is required"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "usage.retention_days", Message: "retention days cannot be negative"})
	}
	if cfg.RetentionDays > 0 {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "usage.prune_schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.PruneSchedule, err),
			})
		}
	}
	return errs
}

func validateBudgets(budgets map[string]BudgetConfig) []FieldError {
	var errs []FieldError

	for id, b := range budgets {
		prefix := fmt.Sprintf("budgets.%s", id)
		if b.DailyUSD != nil && *b.DailyUSD < 0 {
			errs = append(errs, FieldError{Field: prefix + ".daily_usd", Message: "budget cannot be negative"})
		}
		if b.MonthlyUSD != nil && *b.MonthlyUSD < 0 {
			errs = append(errs, FieldError{Field: prefix + ".monthly_usd", Message: "budget cannot be negative"})
		}
	}
	return errs
}

func validateCosts(cfg *CostsConfig) []FieldError {
	var errs []FieldError

	if cfg.FallbackPerToken < 0 {
		errs = append(errs, FieldError{Field: "costs.fallback_per_token", Message: "rate cannot be negative"})
	}
	for provider, models := range cfg.Pricing {
		for model, p := range models {
			if p.Input < 0 || p.Output < 0 || p.CachedInput < 0 {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("costs.pricing.%s.%s", provider, model),
					Message: "prices cannot be negative",
				})
			}
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	return errs
}
