// Package storage defines the persistent key-value capability a
// localstore.Manager reads and writes, and ships the backends for it.
//
// A backend implements Storage (get/set/remove a string by key). Backends
// that can observe writes made by other contexts also implement
// ChangeSource, a payload-less "something changed" signal:
//
//	origin := storage.NewMemory()   // shared store, e.g. one per test
//	tabA := origin.Context()        // Storage + ChangeSource
//	tabB := origin.Context()
//
//	stop := tabB.Subscribe(func() { fmt.Println("changed elsewhere") })
//	tabA.SetItem(ctx, "theme", `"dark"`) // tabB's callback runs
//	stop()
//
// # Backends
//
//   - Memory: in-process origin with per-context change signals
//   - SQL: any database/sql driver (PostgreSQL, MySQL, SQLite dialects)
//   - Redis: go-redis client, change signal over Redis pub/sub
//   - NATS: JetStream key-value bucket, change signal from a KV watcher
//   - S3: one object per key
//
// Backends without a native change signal can be wrapped with Notifying and
// paired with a relay.Client (package relay) to propagate changes.
//
// # Decorators
//
// Traced wraps any backend with OpenTelemetry spans. Decorators implement
// Unwrap so ChangeSourceOf still finds the signal of the wrapped backend.
package storage
