// Package remote defines the remote execution collaborator and ships two
// implementations of it: an HTTP client for a real service and a reference
// server used by tests, the scenario harness and `offsync serve`.
//
// The contract is idempotent execution: a request carries the queued
// action's id as IdempotencyKey, and the collaborator must never apply the
// same key twice. A repeated key returns the original result with
// Duplicate set.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/offsync/internal/ir"
)

// Request is one remote replay of a queued action.
type Request struct {
	IdempotencyKey string          `json:"-"`
	ActionType     ir.ActionType   `json:"action_type"`
	Payload        json.RawMessage `json:"payload"`
	PayloadDigest  string          `json:"payload_digest"`
}

// Result is what the collaborator returns for an applied action.
type Result struct {
	// ServerID is the server's id for the affected entity. It may differ
	// from the client-provisional id.
	ServerID string `json:"server_id"`

	// Duplicate is true when the key had already been applied and this is
	// the stored result of that first application.
	Duplicate bool `json:"duplicate"`
}

// Failure codes returned by the reference server.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeDigestMismatch     = "digest_mismatch"
	CodeKeyReused          = "idempotency_key_reused"
	CodeUnknownAppointment = "unknown_appointment"
	CodeUnavailable        = "unavailable"
	CodeTransport          = "transport"
)

// Failure is a rejection reported by the collaborator.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("remote failure %s: %s", f.Code, f.Message)
}

// IsRetryable reports whether err may succeed on a later attempt.
// Errors that are not a *Failure (timeouts, cancellations) are retryable.
func IsRetryable(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable
	}
	return err != nil
}

// FailureCode returns the Failure code in err's chain, or "".
func FailureCode(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// Executor performs remote replays.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// NewRequest builds the request for qa. The payload digest is computed from
// the canonical payload, so the same action always produces the same
// request, across restarts included.
func NewRequest(qa ir.QueuedAction) (Request, error) {
	payload, err := json.Marshal(qa.Payload)
	if err != nil {
		return Request{}, fmt.Errorf("request %s: marshal payload: %w", qa.ID, err)
	}
	digest, err := ir.PayloadDigest(qa.Payload)
	if err != nil {
		return Request{}, fmt.Errorf("request %s: %w", qa.ID, err)
	}
	return Request{
		IdempotencyKey: qa.ID,
		ActionType:     qa.Type,
		Payload:        payload,
		PayloadDigest:  digest,
	}, nil
}
