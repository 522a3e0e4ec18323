package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/ir"
)

// queuedAction is the JSON form of a pending action.
type queuedAction struct {
	ID         string          `json:"id"`
	Type       ir.ActionType   `json:"type"`
	Seq        int64           `json:"seq"`
	EnqueuedAt string          `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "queue",
		Short:         "Show actions waiting to be replayed",
		Long:          "Show queued actions in the order they will be replayed.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showQueue(rootOpts, cmd)
		},
	}
}

func showQueue(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(commandContext(cmd), opts)
	if err != nil {
		return err
	}
	defer closeApp(a)

	pending := a.coord.Pending()
	view := make([]queuedAction, 0, len(pending))
	for _, qa := range pending {
		payload, err := json.Marshal(qa.Payload)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode queue", err)
		}
		view = append(view, queuedAction{
			ID:         qa.ID,
			Type:       qa.Type,
			Seq:        qa.Seq,
			EnqueuedAt: qa.EnqueuedAt.Format(time.RFC3339),
			Payload:    payload,
		})
	}

	return opts.formatter(cmd).Success(view, func(w io.Writer) {
		if len(view) == 0 {
			fmt.Fprintln(w, "Queue is empty.")
			return
		}
		for _, qa := range view {
			fmt.Fprintf(w, "[%d] %s %s  %s\n", qa.Seq, qa.ID, qa.Type, qa.EnqueuedAt)
		}
	})
}
