// Package queue implements the durable, ordered action queue.
//
// Every user write is appended here before anything else happens to it. The
// queue is a single JSON document in the storage collaborator. Each mutation
// is a read-modify-write of the stored document through store.KV.Update, so
// a second process appending to the same database is never overwritten by a
// stale in-memory copy.
//
// Ordering is the slice order. Seq is a logical clock stamp kept for
// diagnostics and tie-breaks; it never reorders entries.
//
// Only the sync coordinator removes entries, either after a successful
// replay or on manual discard.
package queue
