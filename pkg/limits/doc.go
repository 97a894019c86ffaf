// Package limits groups the controls that keep provider traffic and spend
// within bounds.
//
// The work is done in sub-packages:
//
//   - ratelimit: per-provider minimum interval between requests
//   - circuit: per-provider circuit breaker that stops calls to a failing backend
//   - budget: daily and monthly spending caps with alerting and blocking
//
// The executor in pkg/providers consults ratelimit and circuit on every
// attempt; the usage recorder and the orchestrator consult budget.
package limits
