package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	All bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List appointments",
		Long: `List Pending and Confirmed appointments in creation order.

Use --all to include Rejected and Cancelled ones.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listAppointments(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "include rejected and cancelled appointments")

	return cmd
}

func listAppointments(opts *ListOptions, cmd *cobra.Command) error {
	a, err := openApp(commandContext(cmd), opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	appointments := a.store.List()
	if opts.All {
		appointments = a.store.All()
	}

	return opts.formatter(cmd).Success(appointments, func(w io.Writer) {
		if len(appointments) == 0 {
			fmt.Fprintln(w, "No appointments.")
			return
		}
		for _, ap := range appointments {
			printAppointment(w, ap)
		}
	})
}

func printAppointment(w io.Writer, ap ir.Appointment) {
	sync := "queued"
	if ap.Synced {
		sync = "synced"
	}
	fmt.Fprintf(w, "%-24s %-9s %s %s  patient=%s doctor=%s  %s\n",
		ap.ID, ap.Status, ap.Date, ap.Time, ap.PatientID, ap.DoctorID, sync)
}
