package ir

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence indicates durable storage could not be read or written.
	// It is always surfaced to the caller of the operation that triggered it.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidTransition indicates a status change outside the state machine.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnknownAction indicates an action type outside the closed set.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrInvalidPayload indicates a payload that does not match its schema.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrNotFound indicates a missing entity or queued action.
	ErrNotFound = errors.New("not found")
)

// TransitionError describes a rejected status change.
// The entity is left unchanged.
type TransitionError struct {
	EntityID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s (entity=%s)", ErrInvalidTransition, e.From, e.To, e.EntityID)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsInvalidTransition returns true if err is a transition error.
// Uses errors.As to handle wrapped errors.
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// PersistenceError wraps a storage failure for the operation that caused it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

// Unwrap exposes both ErrPersistence and the underlying storage error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Persistence wraps err as a PersistenceError for op. A nil err returns nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
