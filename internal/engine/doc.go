// Package engine implements the sync coordinator: the single component that
// drains the durable queue against the remote collaborator.
//
// ARCHITECTURE:
//
// Write path (Dispatch):
//  1. Validate the action against its handler's schema
//  2. Enqueue durably (a storage failure is returned, nothing is shown)
//  3. Apply optimistically through the handler
//  4. If online, drain immediately
//
// Drain path (DrainOnce):
//  1. Acquire the drain guard or return Skipped
//  2. Snapshot the queue
//  3. Replay each action in enqueue order, each bounded by ReplayTimeout
//  4. On success reconcile the entity and remove the action
//  5. On failure keep the action queued and continue
//
// Triggers (Run loop):
// Transitions to online, RequestSync and a periodic retry tick all funnel
// into one loop, coalesced through a size-1 signal channel. Every path
// shares the same guard, so no action is ever replayed by two drains at
// once.
//
// Delivery is at-least-once. The action id travels as the idempotency key,
// so a replay repeated after a crash or a lost response is applied by the
// server exactly once.
package engine
