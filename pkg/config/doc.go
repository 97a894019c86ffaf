// Package config provides configuration management for Conduit.
//
// This package handles loading, validating, and watching configuration from
// YAML files with environment variable overrides. It provides a type-safe
// configuration system with validation and sensible defaults.
//
// # Configuration Loading
//
// Configuration can be loaded in three ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
//  3. From a file that may not exist yet (first run):
//     cfg, err := config.LoadOrDefault(config.DefaultConfigPath())
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention CONDUIT_SECTION_FIELD.
// For example:
//
//   - CONDUIT_DATA_DIR overrides data_dir
//   - CONDUIT_PROVIDERS_OPENAI_BASE_URL overrides providers.openai.base_url
//   - CONDUIT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// API keys are never read from the configuration file. They live in the
// credential store (see package credentials).
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and hands every
// successfully validated reload to a callback. Invalid edits are logged and
// ignored; the previous configuration stays in effect.
//
// There is no package-level configuration instance. The composition root
// loads a *Config once and passes it to the components that need it.
package config
