package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// CancelOptions holds flags for the cancel command.
type CancelOptions struct {
	*RootOptions
	Reason string
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CancelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cancel <appointment-id>",
		Short: "Cancel a confirmed appointment",
		Long: `Cancel a confirmed appointment.

The id may be the provisional id shown at booking time; it is resolved to
the server id before the cancel is sent.

Example:
  offsync cancel srv-12 --reason "patient request"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, opts.RootOptions, "cancel", ir.NewAction(ir.CancelAppointment{
				AppointmentID: args[0],
				Reason:        opts.Reason,
			}))
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "cancellation reason")

	return cmd
}
