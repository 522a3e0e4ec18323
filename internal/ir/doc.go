// Package ir provides the shared data model for offsync.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// data model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Action types form a closed set (ActionTypes). Payload is a sealed
//     interface; only BookAppointment and CancelAppointment implement it.
//   - Queue order is authoritative. QueuedAction.Seq and EnqueuedAt are
//     diagnostics and tie-breaks, never used to reorder.
//   - Appointment status transitions are one-directional (CanTransition).
//     Nothing ever returns to StatusPending.
//   - Payload digests use RFC 8785 canonical JSON with NFC-normalized strings
//     so the remote collaborator can detect idempotency-key reuse.
//   - All JSON tags use snake_case.
package ir
