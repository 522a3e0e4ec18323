package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]string{"result": "success"}, nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_TextSuccessUsesRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Success(42, func(w io.Writer) { fmt.Fprintln(w, "rendered") })
	require.NoError(t, err)
	assert.Equal(t, "rendered\n", buf.String())
}

func TestOutputFormatter_TextSuccessDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("All queued", nil))
	assert.Equal(t, "All queued\n", buf.String())
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error(CodeNotFound, "no such action", map[string]string{"id": "a-1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, "no such action", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error(CodeCommand, "boom", "ctx"))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E_COMMAND]: boom")
	assert.Contains(t, errOut.String(), "Details: ctx")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := fmt.Errorf("dispatch: %w", ir.ErrInvalidPayload)
	err := formatter.Fail(ExitFailure, "book failed", cause)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, ir.ErrInvalidPayload)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidPayload, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "book failed")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	quiet := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
	loud.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", errOut.String())
	assert.Empty(t, out.String())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&ir.TransitionError{EntityID: "a", From: ir.StatusPending, To: ir.StatusCancelled}, CodeInvalidTransition},
		{ir.Persistence("enqueue", errors.New("disk full")), CodePersistence},
		{fmt.Errorf("x: %w", ir.ErrInvalidPayload), CodeInvalidPayload},
		{fmt.Errorf("x: %w", ir.ErrUnknownAction), CodeUnknownAction},
		{fmt.Errorf("x: %w", ir.ErrNotFound), CodeNotFound},
		{fmt.Errorf("x: %w", engine.ErrDrainInProgress), CodeDrainInProgress},
		{fmt.Errorf("discard act-2: %w", engine.ErrIrreversible), CodeIrreversible},
		{&engine.ReplayError{ActionID: "a", Stage: engine.StageRemote, Err: errors.New("timeout")}, CodeReplayFailed},
		{errors.New("other"), CodeCommand},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorCode(tt.err), "%v", tt.err)
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: inner: cause", wrapped.Error())
}
