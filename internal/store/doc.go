// Package store provides the durable key-value storage collaborator used by
// the action queue and the optimistic entity store.
//
// The contract is deliberately small:
//
//	Save(ctx, key, value) error
//	Load(ctx, key) (value, found, error)
//
// Save failures must propagate to the caller. The queue and the optimistic
// store turn them into ir.PersistenceError so the UI can tell the user an
// action may not be durable.
//
// # Implementations
//
//   - SQLite: on-device persistence (single kv table, WAL mode)
//   - Memory: process-local map, used by tests and the scenario harness
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: a Save that returned nil survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Values are opaque bytes. Callers own serialization and versioning of what
// they store.
package store
