// Package harness runs YAML scenarios against the real sync engine.
//
// Each scenario builds a fresh client: an in-memory key-value store, the
// durable queue, the optimistic store, the default handler registry and a
// coordinator wired to an in-process reference server. Steps drive the
// client the way a user and the network would, and every step is recorded
// in a trace that can be compared against a golden file.
//
// # Scenario Format
//
//	name: offline_booking
//	description: "What this scenario validates"
//	online: false
//	steps:
//	  - op: book
//	    patient: p-1
//	    doctor: d-7
//	    date: "2025-03-14"
//	    time: "09:30"
//	  - op: online
//	  - op: confirm
//	    appointment: local-act-1
//	expect:
//	  queue_len: 0
//	  remote_applied: 1
//	  appointments:
//	    - id: local-act-1
//	      resolves_to: srv-1
//	      status: Confirmed
//	      synced: true
//
// # Steps
//
//   - book, cancel: dispatch an action through the coordinator
//   - online, offline: report connectivity; going online drains the queue
//   - drain: run one explicit drain
//   - restart: reopen queue, store and coordinator from the same storage
//   - confirm, reject: provider-driven status changes
//   - discard: drop a queued action
//   - fail_next: make the next n remote calls fail with "unavailable"
//   - fail_storage: make the next n storage writes fail
//
// A step may name an expected error kind with expect_error (see ErrorKind).
//
// # Deterministic Testing
//
// Action ids come from a sequence generator (act-1, act-2, ...) that
// survives restarts, the wall clock is a StepClock, and the reference
// server numbers bookings srv-1, srv-2, ... so traces are identical across
// runs.
package harness
