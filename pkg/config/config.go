package config

import "time"

// Config is the root configuration structure for Conduit.
// It contains all configuration sections for provider backends, resilience
// tuning, credentials, usage accounting, budgets and telemetry.
type Config struct {
	// DataDir is the directory holding the usage ledger, settings database
	// and credential files when their paths are not set explicitly.
	// Default: $XDG_DATA_HOME/conduit
	DataDir string `yaml:"data_dir"`

	// Providers contains configuration for every backend the registry may
	// expose. Keys are provider ids (e.g., "openai", "local").
	Providers map[string]ProviderConfig `yaml:"providers"`

	// Resilience contains retry, backoff, circuit breaker and pacing settings
	// shared by all outbound provider calls.
	Resilience ResilienceConfig `yaml:"resilience"`

	// Credentials configures where provider API keys are read from.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Usage configures the usage ledger persistence and retention.
	Usage UsageConfig `yaml:"usage"`

	// Settings configures the persisted user settings store.
	Settings SettingsConfig `yaml:"settings"`

	// Budgets seeds per-provider spending caps. Budgets changed at runtime
	// are persisted in the settings store and take precedence.
	Budgets map[string]BudgetConfig `yaml:"budgets"`

	// Costs contains pricing overrides and the flat fallback rate.
	Costs CostsConfig `yaml:"costs"`

	// Conversation contains orchestrator settings.
	Conversation ConversationConfig `yaml:"conversation"`

	// Alerts configures where budget alerts are delivered.
	Alerts AlertsConfig `yaml:"alerts"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProviderConfig contains configuration for a single provider backend.
type ProviderConfig struct {
	// Type selects the adapter.
	// Options: "openai", "anthropic", "gemini", "generic", "ollama"
	Type string `yaml:"type"`

	// DisplayName is the human-readable provider name.
	// Default: derived from the provider id
	DisplayName string `yaml:"display_name"`

	// BaseURL is the base URL for the provider's API endpoint.
	// Default: the adapter's public endpoint
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single network attempt (connection setup and, for
	// non-streaming calls, the full response).
	// Default: 60s (300s for local engines)
	Timeout time.Duration `yaml:"timeout"`

	// MinInterval is the minimum spacing between request starts.
	// Default: resilience.min_interval
	MinInterval time.Duration `yaml:"min_interval"`

	// DefaultModel is selected after initialization when no model choice
	// has been persisted.
	DefaultModel string `yaml:"default_model"`

	// MaxTokens caps completion length when the backend requires it.
	// Default: 4096
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is passed through when set.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// Headers are extra HTTP headers sent with every request
	// (e.g., OpenRouter attribution headers).
	Headers map[string]string `yaml:"headers"`

	// RequiresKey marks generic endpoints that accept anonymous requests
	// when false. Ignored for typed adapters.
	// Default: true
	RequiresKey *bool `yaml:"requires_key,omitempty"`

	// Disabled removes the provider from the registry.
	Disabled bool `yaml:"disabled"`
}

// ResilienceConfig contains settings for the request executor.
type ResilienceConfig struct {
	// MaxAttempts is the number of attempts per logical operation.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoff is the first retry delay.
	// Default: 500ms
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// MaxBackoff caps retry delays including Retry-After hints.
	// Default: 8s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// JitterFraction is the maximum random jitter as a fraction of the delay.
	// Default: 0.2
	JitterFraction float64 `yaml:"jitter_fraction"`

	// FailureThreshold is the number of consecutive failed operations that
	// opens a provider's circuit.
	// Default: 3
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long an open circuit rejects requests.
	// Default: 30s
	Cooldown time.Duration `yaml:"cooldown"`

	// MinInterval is the default per-provider spacing between requests.
	// Default: 150ms
	MinInterval time.Duration `yaml:"min_interval"`
}

// CredentialsConfig configures the credential store chain.
type CredentialsConfig struct {
	// Dir holds one file per provider id containing its API key.
	// Files must not be readable by group or others.
	// Default: <data_dir>/credentials
	Dir string `yaml:"dir"`

	// DisableWatch turns off fsnotify monitoring of Dir. When watching,
	// providers appear and disappear as keys are added or removed.
	// Default: false
	DisableWatch bool `yaml:"disable_watch"`

	// EnvPrefix is the environment variable prefix for keys
	// (e.g., CONDUIT_KEY_OPENAI).
	// Default: "CONDUIT_KEY_"
	EnvPrefix string `yaml:"env_prefix"`

	// DotenvFiles are loaded into the environment before reading keys.
	// Missing files are skipped.
	// Default: [".env"]
	DotenvFiles []string `yaml:"dotenv_files"`
}

// UsageConfig configures usage ledger persistence.
type UsageConfig struct {
	// SQLitePath is the usage database path.
	// Default: <data_dir>/usage.db
	SQLitePath string `yaml:"sqlite_path"`

	// RetentionDays prunes events older than this many days. Zero keeps
	// everything.
	// Default: 0
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for retention pruning.
	// Default: "0 4 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// SettingsConfig configures the persisted settings database.
type SettingsConfig struct {
	// SQLitePath is the settings database path.
	// Default: <data_dir>/settings.db
	SQLitePath string `yaml:"sqlite_path"`
}

// BudgetConfig is a spending cap for one provider.
type BudgetConfig struct {
	// DailyUSD caps spend since local midnight.
	DailyUSD *float64 `yaml:"daily_usd,omitempty"`

	// MonthlyUSD caps spend since the first of the month.
	MonthlyUSD *float64 `yaml:"monthly_usd,omitempty"`

	// BlockOnExceed rejects requests that would exceed a cap instead of
	// only alerting.
	BlockOnExceed bool `yaml:"block_on_exceed"`
}

// CostsConfig contains cost calculation configuration.
type CostsConfig struct {
	// FallbackPerToken is the flat USD rate applied when a model has no
	// pricing information.
	// Default: 0.000002
	FallbackPerToken float64 `yaml:"fallback_per_token"`

	// Pricing overrides catalog pricing by provider id then model id.
	// A model id ending in "*" matches by prefix.
	Pricing map[string]map[string]ModelPricingConfig `yaml:"pricing"`
}

// ModelPricingConfig contains pricing for a specific model.
type ModelPricingConfig struct {
	// Input is the cost per 1M prompt tokens in USD.
	Input float64 `yaml:"input"`

	// Output is the cost per 1M completion tokens in USD.
	Output float64 `yaml:"output"`

	// CachedInput is the cost per 1M cached prompt tokens in USD (optional).
	CachedInput float64 `yaml:"cached_input,omitempty"`
}

// ConversationConfig contains orchestrator configuration.
type ConversationConfig struct {
	// HistoryWindow is the number of prior messages sent with each query.
	// Default: 10
	HistoryWindow int `yaml:"history_window"`

	// SystemPrompt is prepended to every conversation payload.
	SystemPrompt string `yaml:"system_prompt"`

	// ExcludeContext stops extracted page context from being attached.
	// Default: false
	ExcludeContext bool `yaml:"exclude_context"`

	// FallbackMessage is delivered when streaming and the synchronous
	// fallback both produce nothing.
	FallbackMessage string `yaml:"fallback_message"`

	// MaxHeapMB rejects new queries while the Go heap exceeds this size.
	// Zero disables the guard.
	// Default: 0
	MaxHeapMB int `yaml:"max_heap_mb"`
}

// AlertsConfig configures budget alert sinks.
type AlertsConfig struct {
	// Desktop enables desktop notifications for budget alerts.
	// Default: false
	Desktop bool `yaml:"desktop"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "console"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// DisableRedaction stops API keys and bearer tokens from being masked
	// in log output.
	// Default: false
	DisableRedaction bool `yaml:"disable_redaction"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where the metrics endpoint listens.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "conduit"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "providers"
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "conduit"
	ServiceName string `yaml:"service_name"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
