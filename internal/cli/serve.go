package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory reference server",
		Long: `Run the in-memory reference server that clients replay to.

It deduplicates requests by idempotency key and assigns server ids to
bookings. State is lost when the process exits.

Example:
  offsync serve --listen 127.0.0.1:8787`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides remote.listen)")

	return cmd
}

func serve(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadSettings(opts.RootOptions)
	if err != nil {
		return err
	}
	addr := cfg.Remote.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Handler:      remote.NewServer().Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	slog.Info("reference server listening", "addr", ln.Addr().String())
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server forced to shutdown", err)
	}
	return nil
}
