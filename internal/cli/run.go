package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/offsync/internal/telemetry"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the queue in sync until interrupted",
		Long: `Run the sync coordinator in the foreground.

The remote is probed every connectivity.probe_interval. Whenever it
becomes reachable the queue is drained; while online, failed actions are
retried every retry_interval. Stop with Ctrl-C.

Example:
  offsync run --remote http://127.0.0.1:8787 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(rootOpts, cmd)
		},
	}
}

func runCoordinator(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

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
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.coord.Run(gctx)
	})
	if p := a.prober(); p != nil {
		g.Go(func() error {
			return a.monitor.Watch(gctx, p, a.cfg.Connectivity.ProbeInterval)
		})
	} else {
		slog.Warn("no remote configured, staying offline")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Coordinator started with %d queued action(s). Press Ctrl-C to stop.\n", a.queue.Len())

	if err := g.Wait(); err != nil && !isContextDone(err) {
		return WrapExitError(ExitFailure, "coordinator error", err)
	}

	slog.Info("coordinator stopped gracefully", "pending", len(a.coord.Pending()))
	return nil
}
