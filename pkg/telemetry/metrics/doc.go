// Package metrics exposes provider, usage and budget metrics in the
// Prometheus format.
//
// A Collector is wired into the rest of the system as an observer:
//
//   - providers.RequestObserver: every HTTP attempt and retry made by an
//     Executor (attempts_total, attempt_duration_seconds, retries_total)
//   - providers.OutcomeObserver: every logical request (requests_total,
//     request_duration_seconds, errors_total, tokens_total, cost_usd_total)
//   - circuit.Listener via CircuitChanged (circuit_open)
//   - budget.Alerter via AlertBudget (budget_alerts_total)
//
// All metrics share the configured namespace and subsystem, for example
// conduit_providers_requests_total. Model labels are capped by a
// cardinality limiter; label sets past the limit are reported as "other".
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	exec := providers.NewExecutor(execCfg, breaker, pacer,
//		providers.WithRequestObserver(collector))
//	go collector.Serve(ctx)
package metrics
