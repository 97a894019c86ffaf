package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default values for configuration fields.
const (
	// Provider defaults
	DefaultProviderTimeout      = 60 * time.Second
	DefaultLocalProviderTimeout = 300 * time.Second
	DefaultProviderMaxTokens    = 4096

	// Resilience defaults
	DefaultMaxAttempts      = 5
	DefaultBaseBackoff      = 500 * time.Millisecond
	DefaultMaxBackoff       = 8 * time.Second
	DefaultJitterFraction   = 0.2
	DefaultFailureThreshold = 3
	DefaultCooldown         = 30 * time.Second
	DefaultMinInterval      = 150 * time.Millisecond

	// Credentials defaults
	DefaultCredentialsEnvPrefix = "CONDUIT_KEY_"

	// Usage defaults
	DefaultUsagePruneSchedule = "0 4 * * *"

	// Costs defaults
	DefaultFallbackPerToken = 0.000002

	// Conversation defaults
	DefaultHistoryWindow   = 10
	DefaultFallbackMessage = "I wasn't able to generate a response. Please try again."

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"
	DefaultMetricsAddress     = "127.0.0.1:9464"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "conduit"
	DefaultMetricsSubsystem   = "providers"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "conduit"
	DefaultTracingTimeout     = 10 * time.Second

	// LocalProviderID is the id of the always-present local backend.
	LocalProviderID = "local"
)

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "conduit", "config.yaml")
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "conduit")
}

// DefaultProviders returns the provider set used when the configuration
// file declares none: the local engine plus the public hosted APIs.
func DefaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		LocalProviderID: {Type: "ollama", DisplayName: "Local (Ollama)"},
		"openai":        {Type: "openai", DisplayName: "OpenAI"},
		"anthropic":     {Type: "anthropic", DisplayName: "Anthropic"},
		"gemini":        {Type: "gemini", DisplayName: "Google Gemini"},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults. It is safe to
// call more than once.
func ApplyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	for id, p := range cfg.Providers {
		applyProviderDefaults(id, &p, &cfg.Resilience)
		cfg.Providers[id] = p
	}

	r := &cfg.Resilience
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.BaseBackoff == 0 {
		r.BaseBackoff = DefaultBaseBackoff
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = DefaultMaxBackoff
	}
	if r.JitterFraction == 0 {
		r.JitterFraction = DefaultJitterFraction
	}
	if r.FailureThreshold == 0 {
		r.FailureThreshold = DefaultFailureThreshold
	}
	if r.Cooldown == 0 {
		r.Cooldown = DefaultCooldown
	}
	if r.MinInterval == 0 {
		r.MinInterval = DefaultMinInterval
	}

	c := &cfg.Credentials
	if c.Dir == "" {
		c.Dir = filepath.Join(cfg.DataDir, "credentials")
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = DefaultCredentialsEnvPrefix
	}
	if c.DotenvFiles == nil {
		c.DotenvFiles = []string{".env"}
	}

	if cfg.Usage.SQLitePath == "" {
		cfg.Usage.SQLitePath = filepath.Join(cfg.DataDir, "usage.db")
	}
	if cfg.Usage.PruneSchedule == "" {
		cfg.Usage.PruneSchedule = DefaultUsagePruneSchedule
	}
	if cfg.Settings.SQLitePath == "" {
		cfg.Settings.SQLitePath = filepath.Join(cfg.DataDir, "settings.db")
	}

	if cfg.Costs.FallbackPerToken == 0 {
		cfg.Costs.FallbackPerToken = DefaultFallbackPerToken
	}

	conv := &cfg.Conversation
	if conv.HistoryWindow == 0 {
		conv.HistoryWindow = DefaultHistoryWindow
	}
	if conv.FallbackMessage == "" {
		conv.FallbackMessage = DefaultFallbackMessage
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyProviderDefaults(id string, p *ProviderConfig, r *ResilienceConfig) {
	if p.Type == "" {
		p.Type = id
	}
	if p.DisplayName == "" && id != "" {
		p.DisplayName = strings.ToUpper(id[:1]) + id[1:]
	}
	if p.Timeout == 0 {
		if p.Type == "ollama" {
			p.Timeout = DefaultLocalProviderTimeout
		} else {
			p.Timeout = DefaultProviderTimeout
		}
	}
	if p.MinInterval == 0 {
		p.MinInterval = r.MinInterval
		if p.MinInterval == 0 {
			p.MinInterval = DefaultMinInterval
		}
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultProviderMaxTokens
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLogLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLogFormat
	}

	if t.Metrics.ListenAddress == "" {
		t.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}

	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
		t.Tracing.Insecure = true
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
}
