package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/conduit-test
providers:
  local:
    type: ollama
  openai:
    type: openai
    default_model: gpt-4o-mini
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxAttempts, cfg.Resilience.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Resilience.BaseBackoff)
	assert.Equal(t, 8*time.Second, cfg.Resilience.MaxBackoff)
	assert.Equal(t, 3, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Resilience.Cooldown)
	assert.Equal(t, DefaultLocalProviderTimeout, cfg.Providers["local"].Timeout)
	assert.Equal(t, DefaultProviderTimeout, cfg.Providers["openai"].Timeout)
	assert.Equal(t, "Openai", cfg.Providers["openai"].DisplayName)
	assert.Equal(t, filepath.Join("/tmp/conduit-test", "usage.db"), cfg.Usage.SQLitePath)
	assert.Equal(t, filepath.Join("/tmp/conduit-test", "credentials"), cfg.Credentials.Dir)
	assert.Equal(t, 10, cfg.Conversation.HistoryWindow)
}

func TestLoadConfig_DefaultProvidersWhenNoneDeclared(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/x\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Providers, LocalProviderID)
	assert.Contains(t, cfg.Providers, "anthropic")
	assert.Equal(t, "ollama", cfg.Providers[LocalProviderID].Type)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
providers:
  openai:
    type: openai
  mystery:
    type: carrier-pigeon
resilience:
  jitter_fraction: 3
`)

	_, err := LoadConfig(path)
	require.Error(t, err)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	fields := map[string]bool{}
	for _, fe := range verr.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["providers.mystery.type"])
	assert.True(t, fields["providers"], "missing local provider must be reported")
	assert.True(t, fields["resilience.jitter_fraction"])
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Telemetry.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONDUIT_TELEMETRY_LOGGING_LEVEL", "debug")
	t.Setenv("CONDUIT_RESILIENCE_MAX_ATTEMPTS", "2")
	t.Setenv("CONDUIT_PROVIDERS_OPENAI_BASE_URL", "http://127.0.0.1:9999/v1")

	path := writeConfig(t, `
providers:
  local:
    type: ollama
  openai:
    type: openai
`)
	cfg, err := LoadConfigWithEnvOverrides(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Telemetry.Logging.Level)
	assert.Equal(t, 2, cfg.Resilience.MaxAttempts)
	assert.Equal(t, "http://127.0.0.1:9999/v1", cfg.Providers["openai"].BaseURL)
}

func TestValidate_GenericNeedsBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Providers["groq"] = ProviderConfig{Type: "generic", DisplayName: "Groq"}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.groq.base_url")
}

func TestValidate_BadPruneSchedule(t *testing.T) {
	cfg := Default()
	cfg.Usage.RetentionDays = 30
	cfg.Usage.PruneSchedule = "not a schedule"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage.prune_schedule")
}
