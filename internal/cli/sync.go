package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/telemetry"
)

// syncFailure is the JSON form of a replay failure.
type syncFailure struct {
	ActionID  string             `json:"action_id"`
	Stage     engine.ReplayStage `json:"stage"`
	Retryable bool               `json:"retryable"`
	Message   string             `json:"message"`
}

// syncResult is the output of the sync command.
type syncResult struct {
	engine.Report
	Failures  []syncFailure `json:"failures,omitempty"`
	Remaining int           `json:"remaining"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions once",
		Long: `Probe the remote and, if it is reachable, replay every queued action
once in enqueue order.

Exit codes:
  0 - queue drained, or nothing to do
  1 - one or more replays failed, or the remote is unreachable
  2 - command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncOnce(rootOpts, cmd)
		},
	}
}

func syncOnce(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer closeApp(a)

	shutdown, err := telemetry.Init(ctx, a.cfg.Observability)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialise tracing", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	a.probe(ctx)
	report, err := a.coord.DrainOnce(ctx)
	if err != nil {
		return out.Fail(ExitFailure, "sync interrupted", err)
	}

	res := syncResult{Report: report, Remaining: a.queue.Len()}
	for _, f := range report.Failures {
		res.Failures = append(res.Failures, syncFailure{
			ActionID:  f.ActionID,
			Stage:     f.Stage,
			Retryable: f.Retryable,
			Message:   f.Err.Error(),
		})
	}

	if err := out.Success(res, func(w io.Writer) { printSync(w, res) }); err != nil {
		return err
	}

	switch {
	case len(res.Failures) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d replay(s) failed", len(res.Failures)))
	case report.Offline && res.Remaining > 0:
		return NewExitError(ExitFailure, "remote unreachable")
	}
	return nil
}

func printSync(w io.Writer, res syncResult) {
	if res.Offline {
		fmt.Fprintf(w, "Offline: %d action(s) waiting.\n", res.Remaining)
		return
	}
	for _, r := range res.Replayed {
		suffix := ""
		if r.Duplicate {
			suffix = " (duplicate)"
		}
		fmt.Fprintf(w, "replayed %s -> %s%s\n", r.ActionID, r.ServerID, suffix)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(w, "failed   %s at %s: %s\n", f.ActionID, f.Stage, f.Message)
	}
	fmt.Fprintf(w, "Sync: %d replayed, %d failed, %d remaining\n", len(res.Replayed), len(res.Failures), res.Remaining)
}
