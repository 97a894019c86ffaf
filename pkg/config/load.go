package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for configuration environment overrides.
const EnvPrefix = "CONDUIT_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention CONDUIT_SECTION_FIELD (e.g., CONDUIT_TELEMETRY_LOGGING_LEVEL).
// Environment variables always take precedence over file-based configuration.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return finishWithEnv(cfg)
}

// LoadOrDefault behaves like LoadConfigWithEnvOverrides but falls back to
// the default configuration when no file exists at path.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return finishWithEnv(Default())
}

func finishWithEnv(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("CONDUIT_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}

	// Resilience overrides
	if val := os.Getenv("CONDUIT_RESILIENCE_MAX_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Resilience.MaxAttempts = i
		}
	}
	if val := os.Getenv("CONDUIT_RESILIENCE_COOLDOWN"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Resilience.Cooldown = d
		}
	}
	if val := os.Getenv("CONDUIT_RESILIENCE_FAILURE_THRESHOLD"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Resilience.FailureThreshold = i
		}
	}

	// Credentials overrides
	if val := os.Getenv("CONDUIT_CREDENTIALS_DIR"); val != "" {
		cfg.Credentials.Dir = val
	}
	if val := os.Getenv("CONDUIT_CREDENTIALS_DISABLE_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Credentials.DisableWatch = b
		}
	}

	// Usage overrides
	if val := os.Getenv("CONDUIT_USAGE_SQLITE_PATH"); val != "" {
		cfg.Usage.SQLitePath = val
	}
	if val := os.Getenv("CONDUIT_USAGE_RETENTION_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Usage.RetentionDays = i
		}
	}

	if val := os.Getenv("CONDUIT_CONVERSATION_HISTORY_WINDOW"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Conversation.HistoryWindow = i
		}
	}
	if val := os.Getenv("CONDUIT_ALERTS_DESKTOP"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Alerts.Desktop = b
		}
	}

	// Telemetry overrides
	if val := os.Getenv("CONDUIT_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("CONDUIT_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("CONDUIT_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("CONDUIT_TELEMETRY_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.ListenAddress = val
	}
	if val := os.Getenv("CONDUIT_TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := os.Getenv("CONDUIT_TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
	if val := os.Getenv("CONDUIT_TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	for id := range cfg.Providers {
		applyProviderEnvOverrides(cfg, id)
	}
}

// applyProviderEnvOverrides applies environment variable overrides for a specific provider.
// Provider environment variables follow the format CONDUIT_PROVIDERS_<ID>_<FIELD>
// where ID is the uppercase provider id with dashes replaced by underscores.
func applyProviderEnvOverrides(cfg *Config, id string) {
	provider := cfg.Providers[id]
	prefix := EnvPrefix + "PROVIDERS_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"

	if val := os.Getenv(prefix + "BASE_URL"); val != "" {
		provider.BaseURL = val
	}
	if val := os.Getenv(prefix + "DEFAULT_MODEL"); val != "" {
		provider.DefaultModel = val
	}
	if val := os.Getenv(prefix + "TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			provider.Timeout = d
		}
	}
	if val := os.Getenv(prefix + "DISABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			provider.Disabled = b
		}
	}

	cfg.Providers[id] = provider
}
