package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType identifies a user write operation.
// The set is closed: every value returned by ActionTypes must have exactly
// one registered handler.
type ActionType string

const (
	// ActionBookAppointment creates a new appointment in StatusPending.
	ActionBookAppointment ActionType = "BookAppointment"

	// ActionCancelAppointment moves a confirmed appointment to StatusCancelled.
	ActionCancelAppointment ActionType = "CancelAppointment"
)

// ActionTypes returns every recognized action type in declaration order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionBookAppointment,
		ActionCancelAppointment,
	}
}

// Valid reports whether t belongs to the closed set of action types.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// CreatesAppointment reports whether actions of type t create the
// appointment they affect. Only such actions can be undone locally, by
// withdrawing what they created.
func (t ActionType) CreatesAppointment() bool {
	return t == ActionBookAppointment
}

// Payload is a sealed interface for type-specific action data.
// Only types in this package can implement it.
type Payload interface {
	ActionType() ActionType
	sealedPayload()
}

// BookAppointment requests a consultation between a patient and a doctor.
// PatientID and DoctorID are opaque caller identities; they are never
// validated against the identity subsystem.
type BookAppointment struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // HH:MM, 24h
	Notes     string `json:"notes,omitempty"`
}

func (BookAppointment) ActionType() ActionType { return ActionBookAppointment }
func (BookAppointment) sealedPayload()         {}

// CancelAppointment cancels an existing appointment.
// AppointmentID may be a client-provisional id; it is resolved through the
// optimistic store's alias table before replay.
type CancelAppointment struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
}

func (CancelAppointment) ActionType() ActionType { return ActionCancelAppointment }
func (CancelAppointment) sealedPayload()         {}

// Action is a user-intended write that has not been enqueued yet.
type Action struct {
	Type    ActionType
	Payload Payload
}

// NewAction builds an Action whose Type always matches its payload.
func NewAction(p Payload) Action {
	return Action{Type: p.ActionType(), Payload: p}
}

// Validate checks structural consistency of the action.
// Field-level payload rules live in the handler schema.
func (a Action) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	if a.Payload == nil {
		return fmt.Errorf("%w: %s has no payload", ErrInvalidPayload, a.Type)
	}
	if a.Payload.ActionType() != a.Type {
		return fmt.Errorf("%w: type %s carries %s payload", ErrInvalidPayload, a.Type, a.Payload.ActionType())
	}
	return nil
}

// QueuedAction is an Action that has been durably recorded.
// It is never mutated in place; it is created by enqueue and destroyed by
// successful replay or manual discard.
type QueuedAction struct {
	ID         string
	Type       ActionType
	Payload    Payload
	EnqueuedAt time.Time
	Seq        int64
}

// queuedActionJSON is the persisted shape of a QueuedAction.
type queuedActionJSON struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Seq        int64           `json:"seq"`
}

// MarshalJSON encodes the payload alongside its type tag.
func (qa QueuedAction) MarshalJSON() ([]byte, error) {
	if qa.Payload == nil {
		return nil, fmt.Errorf("queued action %s: %w: nil payload", qa.ID, ErrInvalidPayload)
	}
	payload, err := json.Marshal(qa.Payload)
	if err != nil {
		return nil, fmt.Errorf("queued action %s: marshal payload: %w", qa.ID, err)
	}
	return json.Marshal(queuedActionJSON{
		ID:         qa.ID,
		Type:       qa.Type,
		Payload:    payload,
		EnqueuedAt: qa.EnqueuedAt,
		Seq:        qa.Seq,
	})
}

// UnmarshalJSON decodes the payload according to its type tag.
func (qa *QueuedAction) UnmarshalJSON(data []byte) error {
	var raw queuedActionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return fmt.Errorf("queued action %s: %w", raw.ID, err)
	}
	*qa = QueuedAction{
		ID:         raw.ID,
		Type:       raw.Type,
		Payload:    payload,
		EnqueuedAt: raw.EnqueuedAt,
		Seq:        raw.Seq,
	}
	return nil
}

// Action returns the un-enqueued form of qa.
func (qa QueuedAction) Action() Action {
	return Action{Type: qa.Type, Payload: qa.Payload}
}

// DecodePayload decodes data into the concrete payload type for t.
// This is the only place that maps type tags to payload structs.
func DecodePayload(t ActionType, data []byte) (Payload, error) {
	switch t {
	case ActionBookAppointment:
		var p BookAppointment
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, t, err)
		}
		return p, nil
	case ActionCancelAppointment:
		var p CancelAppointment
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, t)
	}
}
