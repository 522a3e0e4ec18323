package harness

import (
	"errors"
	"fmt"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

// TraceEvent records the observable outcome of one step.
type TraceEvent struct {
	Step     int       `json:"step"`
	Op       string    `json:"op"`
	ActionID string    `json:"action_id,omitempty"`
	EntityID string    `json:"entity_id,omitempty"`
	Status   ir.Status `json:"status,omitempty"`
	Synced   bool      `json:"synced,omitempty"`
	Replayed []string  `json:"replayed,omitempty"`
	Failed   []string  `json:"failed,omitempty"`
	Deferred int       `json:"deferred,omitempty"`
	Error    string    `json:"error,omitempty"`
	Queue    int       `json:"queue"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step behaved as expected and the final state
	// matched.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Error kinds recorded in traces and matched by expect_error.
const (
	KindInvalidTransition = "invalid_transition"
	KindNotFound          = "not_found"
	KindInvalidPayload    = "invalid_payload"
	KindUnknownAction     = "unknown_action"
	KindPersistence       = "persistence"
	KindDrainInProgress   = "drain_in_progress"
	KindIrreversible      = "irreversible"
	KindOther             = "error"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case ir.IsInvalidTransition(err):
		return KindInvalidTransition
	case errors.Is(err, ir.ErrPersistence):
		return KindPersistence
	case errors.Is(err, ir.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ir.ErrInvalidPayload):
		return KindInvalidPayload
	case errors.Is(err, ir.ErrUnknownAction):
		return KindUnknownAction
	case errors.Is(err, engine.ErrDrainInProgress):
		return KindDrainInProgress
	case errors.Is(err, engine.ErrIrreversible):
		return KindIrreversible
	}
	return KindOther
}

// failureLabel renders a replay failure as "<action> <code>" for traces.
func failureLabel(rerr *engine.ReplayError) string {
	code := remote.FailureCode(rerr)
	if code == "" {
		code = string(rerr.Stage)
	}
	return rerr.ActionID + " " + code
}
