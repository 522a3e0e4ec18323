package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// statusTargets maps provider-driven commands to the status they set.
var statusTargets = map[string]ir.Status{
	"confirm": ir.StatusConfirmed,
	"reject":  ir.StatusRejected,
}

// NewStatusCommand creates the confirm or reject command. These record a
// decision made by the provider; they are not queued for replay.
func NewStatusCommand(rootOpts *RootOptions, name string) *cobra.Command {
	target, ok := statusTargets[name]
	if !ok {
		panic(fmt.Sprintf("cli: no status command %q", name))
	}

	return &cobra.Command{
		Use:   name + " <appointment-id>",
		Short: fmt.Sprintf("Mark a pending appointment %s", target),
		Long: fmt.Sprintf(`Mark a pending appointment %s.

This records the provider's decision locally. Only Pending appointments
can be %s.`, target, target),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setStatus(rootOpts, cmd, args[0], target)
		},
	}
}

func setStatus(opts *RootOptions, cmd *cobra.Command, id string, status ir.Status) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ap, err := a.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return out.Fail(ExitFailure, "status change failed", err)
	}
	return out.Success(ap, func(w io.Writer) { printAppointment(w, ap) })
}
