package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/telemetry"
)

// BookOptions holds flags for the book command.
type BookOptions struct {
	*RootOptions
	Patient string
	Doctor  string
	Date    string
	Time    string
	Notes   string
}

// NewBookCommand creates the book command.
func NewBookCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BookOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment",
		Long: `Book an appointment.

The booking is queued and shown as Pending immediately. If the remote is
reachable it is sent right away; otherwise it is replayed by "offsync sync"
or "offsync run" once connectivity returns.

Example:
  offsync book --patient p-1 --doctor d-7 --date 2025-03-14 --time 09:30`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, opts.RootOptions, "book", ir.NewAction(ir.BookAppointment{
				PatientID: opts.Patient,
				DoctorID:  opts.Doctor,
				Date:      opts.Date,
				Time:      opts.Time,
				Notes:     opts.Notes,
			}))
		},
	}

	cmd.Flags().StringVar(&opts.Patient, "patient", "", "patient id (required)")
	cmd.Flags().StringVar(&opts.Doctor, "doctor", "", "doctor id (required)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "date as YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.Time, "time", "", "time as HH:MM (required)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-text notes")
	for _, name := range []string{"patient", "doctor", "date", "time"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// dispatch opens the client, probes the remote and dispatches action. An
// online dispatch drains immediately, so tracing is set up as for sync.
func dispatch(cmd *cobra.Command, opts *RootOptions, verb string, action ir.Action) error {
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

	online := a.probe(ctx)
	out.VerboseLog("remote reachable: %t", online)

	res, err := a.coord.Dispatch(ctx, action)
	if err != nil {
		return out.Fail(ExitFailure, verb+" failed", err)
	}
	return out.Success(res, func(w io.Writer) { printDispatch(w, res) })
}

func printDispatch(w io.Writer, res engine.DispatchResult) {
	state := "queued"
	if res.Synced {
		state = "synced"
	}
	fmt.Fprintf(w, "%s %s (%s, %s)\n", res.ActionID, res.Entity.ID, res.Entity.Status, state)
	if res.Drain != nil {
		for _, f := range res.Drain.Failures {
			fmt.Fprintf(w, "  replay %s failed: %v\n", f.ActionID, f.Err)
		}
	}
}

// commandContext returns the command's context, or Background when the
// command is executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
