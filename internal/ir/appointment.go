package ir

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

// transitions is the complete appointment state machine.
// Any pair not listed here is an invalid transition.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected},
	StatusConfirmed: {StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment is the domain entity kept in the optimistic store.
//
// ID starts as a client-provisional id. Synced records that the creating
// action reached the server; it is independent of Status, which only changes
// through provider-driven transitions.
type Appointment struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	DoctorID       string    `json:"doctor_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Notes          string    `json:"notes,omitempty"`
	Status         Status    `json:"status"`
	SourceActionID string    `json:"source_action_id"`
	Synced         bool      `json:"synced"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
