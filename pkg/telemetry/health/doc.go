// Package health runs readiness checks over conduit's components and
// exposes them over HTTP.
//
// Checks are plain functions returning nil when a component is usable.
// CheckReadiness runs every registered check concurrently, each under its
// own timeout, and reports "ready" or "degraded":
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("provider", health.ActiveProviderCheck(registry))
//	checker.RegisterCheck("ledger", ledger.Flush)
//
//	status := checker.CheckReadiness(ctx)
//
// LivenessHandler and ReadinessHandler serve /healthz and /readyz next to
// the metrics endpoint.
package health
