// Package settings holds user-tunable runtime settings and the small amount
// of state the layer persists between runs: the selected provider, the
// selected model per provider and per-provider budgets.
//
// # Values
//
// A setting Value is a tagged union over four kinds: string, number, bool
// and choice (one of a fixed set of options). Accessors report whether the
// value has the requested kind; there is no untyped escape hatch.
//
//	v := settings.Choice("log", "off", "log", "desktop")
//	mode, ok := v.AsChoice()
//
// # Definitions
//
// A Definition names a known setting, its default and its constraints.
// Manager validates writes to defined keys against their Definition and
// serves the default when nothing is stored. Undefined keys (for example
// "provider.openai.model") are stored as given.
//
// # Storage
//
// Store is implemented by MemoryStore and SQLiteStore. SQLiteStore uses the
// pure-Go modernc.org/sqlite driver in WAL mode with a single writer.
package settings
