package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewDiscardCommand creates the discard command.
func NewDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <action-id>",
		Short: "Drop a queued action without replaying it",
		Long: `Drop a queued action without replaying it.

A booking that was never sent is withdrawn: its appointment becomes
Rejected. Use "offsync queue" to find action ids.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return discardAction(rootOpts, cmd, args[0])
		},
	}
}

func discardAction(opts *RootOptions, cmd *cobra.Command, id string) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.coord.Discard(ctx, id); err != nil {
		return out.Fail(ExitFailure, "discard failed", err)
	}

	data := map[string]any{"action_id": id, "remaining": a.queue.Len()}
	return out.Success(data, func(w io.Writer) {
		fmt.Fprintf(w, "Discarded %s (%d remaining)\n", id, a.queue.Len())
	})
}
