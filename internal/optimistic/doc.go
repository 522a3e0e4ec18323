// Package optimistic holds the locally visible appointment collection.
//
// Entities appear here the moment their creating action is enqueued, long
// before the server has seen them. Consumers must not read "present" as
// "confirmed"; Synced and Status carry that information separately.
//
// The collection is persisted as one JSON document next to the queue.
// Provisional ids that were remapped to server ids stay resolvable through
// an alias table, so queued actions that captured an old id still find
// their target.
package optimistic
