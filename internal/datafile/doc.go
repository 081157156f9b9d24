// Package datafile keeps a local copy of the remote configuration document
// fresh. It is structured into small files by concern:
//
//   - manager.go: Manager type, Start/Stop lifecycle, accessors.
//   - fetch.go: one fetch attempt and the fixed-delay poll loop.
//   - config.go: Config, CacheDirective and package defaults.
//   - cache.go: Cache interface and the single-entry MemoryCache.
//   - types.go: State, CacheEntry, Update, Status.
//   - errors.go: error types and helpers.
//
// The manager owns the active datafile. Callers read it through Get (strings
// are immutable, so this is a copy-out) and observe changes through On.
// Listeners are called on the fetching goroutine, in fetch-completion order,
// and never for a payload identical to the current one.
package datafile
