// Package storage provides usage.Store backends.
//
// SQLiteStorage is the durable backend. Events live in a single
// usage_events table indexed by timestamp and by provider, with timestamps
// stored as Unix nanoseconds and unknown costs as NULL. Saves are batched in
// one transaction and idempotent by event id, so a batch retried after a
// partial failure does not duplicate rows.
//
// MemoryStorage keeps events in a map and exists for tests; FailSaves lets a
// test simulate a failing backend.
package storage
