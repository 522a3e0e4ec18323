// Package handlers maps every action type to its optimistic and remote
// behaviour.
//
// The registry is closed: it refuses to build unless every type returned by
// ir.ActionTypes has exactly one handler, so adding an action type without
// wiring it fails at startup rather than at replay time.
package handlers

import (
	"context"
	"fmt"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

// Entities is the part of the optimistic store a handler may use.
type Entities interface {
	Apply(ctx context.Context, qa ir.QueuedAction, entity ir.Appointment) (ir.Appointment, bool, error)
	UpdateStatus(ctx context.Context, id string, status ir.Status) (ir.Appointment, error)
	Get(id string) (ir.Appointment, bool)
	Resolve(id string) string
}

// Handler implements one action type.
type Handler interface {
	// ApplyOptimistic applies the action's local effect. It must be
	// idempotent: applying the same queued action twice leaves one effect.
	ApplyOptimistic(ctx context.Context, env Entities, qa ir.QueuedAction) (ir.Appointment, error)

	// ReplayRemote sends the action to the remote collaborator.
	ReplayRemote(ctx context.Context, exec remote.Executor, env Entities, qa ir.QueuedAction) (remote.Result, error)
}

// ProvisionalID is the client-side id of the entity created by actionID.
func ProvisionalID(actionID string) string {
	return "local-" + actionID
}

// BookHandler creates a Pending appointment.
type BookHandler struct{}

// ApplyOptimistic implements Handler.
func (BookHandler) ApplyOptimistic(ctx context.Context, env Entities, qa ir.QueuedAction) (ir.Appointment, error) {
	p, ok := qa.Payload.(ir.BookAppointment)
	if !ok {
		return ir.Appointment{}, fmt.Errorf("%w: %s carries %T", ir.ErrInvalidPayload, qa.ID, qa.Payload)
	}
	entity, _, err := env.Apply(ctx, qa, ir.Appointment{
		ID:        ProvisionalID(qa.ID),
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		Time:      p.Time,
		Notes:     p.Notes,
		Status:    ir.StatusPending,
	})
	return entity, err
}

// ReplayRemote implements Handler.
func (BookHandler) ReplayRemote(ctx context.Context, exec remote.Executor, _ Entities, qa ir.QueuedAction) (remote.Result, error) {
	req, err := remote.NewRequest(qa)
	if err != nil {
		return remote.Result{}, err
	}
	return exec.Execute(ctx, req)
}

// CancelHandler moves a Confirmed appointment to Cancelled.
type CancelHandler struct{}

// ApplyOptimistic implements Handler. Cancelling an already cancelled
// appointment is a no-op.
func (CancelHandler) ApplyOptimistic(ctx context.Context, env Entities, qa ir.QueuedAction) (ir.Appointment, error) {
	p, ok := qa.Payload.(ir.CancelAppointment)
	if !ok {
		return ir.Appointment{}, fmt.Errorf("%w: %s carries %T", ir.ErrInvalidPayload, qa.ID, qa.Payload)
	}
	current, found := env.Get(p.AppointmentID)
	if !found {
		return ir.Appointment{}, fmt.Errorf("cancel %s: %w", p.AppointmentID, ir.ErrNotFound)
	}
	if current.Status == ir.StatusCancelled {
		return current, nil
	}
	return env.UpdateStatus(ctx, current.ID, ir.StatusCancelled)
}

// ReplayRemote implements Handler. The target id is resolved through the
// store's aliases so a cancel captured before a remap reaches the server id.
func (CancelHandler) ReplayRemote(ctx context.Context, exec remote.Executor, env Entities, qa ir.QueuedAction) (remote.Result, error) {
	p, ok := qa.Payload.(ir.CancelAppointment)
	if !ok {
		return remote.Result{}, fmt.Errorf("%w: %s carries %T", ir.ErrInvalidPayload, qa.ID, qa.Payload)
	}
	if resolved := env.Resolve(p.AppointmentID); resolved != p.AppointmentID {
		p.AppointmentID = resolved
		qa.Payload = p
	}
	req, err := remote.NewRequest(qa)
	if err != nil {
		return remote.Result{}, err
	}
	return exec.Execute(ctx, req)
}
