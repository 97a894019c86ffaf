// Package budget enforces per-provider spending caps.
//
// # Overview
//
// A Budget caps a provider's spend per calendar day (since local midnight)
// and per calendar month (since the first of the month). Spend is not
// tracked here: it is read from the usage ledger, so the caps always reflect
// what was actually recorded.
//
// # Checking
//
// CheckAndRecord is called with the cost about to be recorded for a
// provider. Without a budget, or with a non-positive delta, it always
// allows. Otherwise it adds the delta to the day-to-date and month-to-date
// spend; if either exceeds its cap an alert is raised and the result is
// !BlockOnExceed. The check is advisory unless BlockOnExceed is set, since
// the cost of a streamed response is only known once it has been sent.
//
//	enforcer := budget.NewEnforcer(ledger, budget.NewSettingsStore(store),
//	    budget.WithAlerter(budget.NewLogAlerter()),
//	)
//	if !enforcer.CheckAndRecord(ctx, 0.02, "openai", time.Now()) {
//	    // blocked
//	}
//
// Preflight performs the same check with an estimated cost and returns an
// *ExceededError when the request must not be sent.
//
// # Alerts
//
// Non-blocking alerts are delivered once per provider and period; the next
// day (or month) may alert again. Blocked requests alert every time. Sinks
// are log, desktop notifications, and any AlerterFunc (metrics).
//
// # Persistence
//
// Budgets are stored in the settings store under
// "budget.<provider>.daily_usd", "budget.<provider>.monthly_usd" and
// "budget.<provider>.block_on_exceed". Budgets from the configuration file
// seed providers that have no stored budget.
package budget
