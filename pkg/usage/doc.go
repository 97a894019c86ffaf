// Package usage records the outcome of every provider operation and answers
// cost and token questions about them.
//
// # Events
//
// An Event is immutable once appended. Each carries a ULID so events sort by
// creation time even when persisted out of order, and failed events carry the
// providers.ErrorClass of their error.
//
// # Ledger
//
// The Ledger keeps the full log in memory. Append is O(1) and never blocks on
// storage: new events are queued and a background goroutine saves them to the
// configured Store. Readers take a snapshot of the log, so aggregation and
// export run concurrently with further appends.
//
//	ledger := usage.NewLedger(store)
//	if err := ledger.Load(ctx); err != nil { ... }
//	defer ledger.Close()
//
//	ledger.Append(usage.Event{ProviderID: "openai", ModelID: "gpt-4o-mini", ...})
//	byModel := ledger.Aggregate(false, usage.Range{Start: monthStart})
//
// Aggregation keys are the provider id, or "provider::model" when
// byProviderOnly is false.
//
// # Export
//
// ExportCSV writes the header
//
//	timestamp,provider,model,promptTokens,completionTokens,totalTokens,estimatedCostUSD,success,latencyMs,contextIncluded
//
// followed by one row per event with RFC 3339 timestamps and costs formatted
// with six decimals. ParseCSV reads the same format back. ExportJSON writes
// the events as a JSON array.
//
// # Recording
//
// Recorder adapts a Ledger to providers.OutcomeObserver so every adapter's
// operations are recorded without the adapters knowing about the ledger. A
// BudgetChecker, when set, sees each cost before the event is appended.
package usage
