// Package telemetry bundles conduit's observability: structured logging,
// Prometheus metrics, OpenTelemetry tracing and readiness checks.
//
// # Components
//
//   - logging: slog handlers with credential redaction and context fields
//   - metrics: Prometheus collectors fed by executor and provider observers
//   - tracing: OTLP span export and W3C trace context propagation
//   - health: readiness checks served next to the metrics endpoint
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, os.Stderr)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Health().RegisterCheck("provider", health.ActiveProviderCheck(reg))
//	tel.Start(ctx)
//
// New installs the logger as the slog default, so packages that log
// through slog.Default pick up the configured level, format and redaction.
//
// # Credential protection
//
// Unless logging.disable_redaction is set, API keys are masked in every
// log record: sk-abc123def456 becomes sk-a***, and values of sensitive
// attribute keys (api_key, token, authorization) are masked whatever they
// contain.
package telemetry
