package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/handlers"
	"github.com/roach88/offsync/internal/optimistic"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/store"
)

// app is the client wired from settings: one database, one queue, one
// optimistic store and the coordinator that owns them.
type app struct {
	cfg     *config.Settings
	db      *store.SQLite
	queue   *queue.Queue
	store   *optimistic.Store
	monitor *connectivity.Monitor
	client  *remote.HTTPClient // nil when no remote is configured
	coord   *engine.Coordinator
}

// noRemote is the executor used when no remote is configured. The monitor
// never reports online in that case, so it is only reached by explicit
// drains.
var noRemote = remote.ExecutorFunc(func(context.Context, remote.Request) (remote.Result, error) {
	return remote.Result{}, &remote.Failure{Code: remote.CodeUnavailable, Message: "no remote configured", Retryable: true}
})

// loadSettings loads settings and applies flag overrides.
func loadSettings(opts *RootOptions) (*config.Settings, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Remote != "" {
		cfg.Remote.BaseURL = opts.Remote
	}
	if opts.Offline {
		cfg.Remote.BaseURL = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid settings", err)
	}
	return cfg, nil
}

// openApp loads settings and opens the client. The monitor starts offline;
// call probe to learn the real state.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	slog.Debug("opening database", "path", cfg.Database)
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	q, err := queue.Open(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load queue", err)
	}
	s, err := optimistic.Open(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load appointments", err)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		queue:   q,
		store:   s,
		monitor: connectivity.New(false),
	}

	var exec remote.Executor = noRemote
	if cfg.Remote.BaseURL != "" {
		a.client = remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Timeout)
		exec = a.client
	}

	a.coord = engine.New(q, s, handlers.Default(), exec, a.monitor,
		engine.WithReplayTimeout(cfg.ReplayTimeout),
		engine.WithRetryInterval(cfg.RetryInterval),
		engine.WithDrainLease(db, uuid.NewString()),
	)
	return a, nil
}

// prober returns the reachability check for the configured remote, or nil.
func (a *app) prober() connectivity.Prober {
	if a.client == nil {
		return nil
	}
	return a.client
}

// probe checks reachability once and reports the result to the monitor.
func (a *app) probe(ctx context.Context) bool {
	p := a.prober()
	if p == nil {
		return false
	}
	err := p.Probe(ctx)
	if err != nil {
		slog.Debug("remote unreachable", "base_url", a.cfg.Remote.BaseURL, "error", err)
	}
	a.monitor.Report(err == nil)
	return err == nil
}

// Close releases the coordinator, the monitor and the database.
func (a *app) Close() error {
	a.coord.Close()
	a.monitor.Close()
	return a.db.Close()
}

// closeApp closes a and logs a failure. Use in defers.
func closeApp(a *app) {
	if err := a.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// isContextDone reports whether err is a context cancellation.
func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
