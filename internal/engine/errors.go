package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/remote"
)

// ErrDrainInProgress is returned by operations that must not overlap a
// drain, such as Discard.
var ErrDrainInProgress = errors.New("drain in progress")

// ErrIrreversible is returned by Discard for an action whose optimistic
// effect cannot be undone locally.
var ErrIrreversible = errors.New("action cannot be discarded: its local effect is irreversible")

// ReplayStage identifies where a replay failed.
type ReplayStage string

const (
	// StageHandler indicates no handler could be resolved for the action.
	StageHandler ReplayStage = "handler"

	// StageRemote indicates the remote collaborator failed or timed out.
	StageRemote ReplayStage = "remote"

	// StageReconcile indicates the remote call succeeded but the local
	// entity could not be updated.
	StageReconcile ReplayStage = "reconcile"

	// StageRemove indicates the action could not be removed from the queue
	// after success. It will be replayed again and deduplicated remotely.
	StageRemove ReplayStage = "remove"
)

// ReplayError describes one queued action that could not be completed
// during a drain. The action stays queued.
type ReplayError struct {
	ActionID  string
	Type      ir.ActionType
	Stage     ReplayStage
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay %s (%s) failed at %s: %v", e.ActionID, e.Type, e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ReplayError) Unwrap() error {
	return e.Err
}

// IsReplayError returns true if err is a replay failure.
// Uses errors.As to handle wrapped errors.
func IsReplayError(err error) bool {
	var re *ReplayError
	return errors.As(err, &re)
}

func newReplayError(qa ir.QueuedAction, stage ReplayStage, err error) *ReplayError {
	retryable := true
	if stage == StageRemote {
		retryable = remote.IsRetryable(err)
	}
	return &ReplayError{
		ActionID:  qa.ID,
		Type:      qa.Type,
		Stage:     stage,
		Retryable: retryable,
		Err:       err,
	}
}
