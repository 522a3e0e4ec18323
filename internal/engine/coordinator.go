package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/handlers"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/optimistic"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/store"
)

// Defaults for replay bounds.
const (
	DefaultReplayTimeout = 10 * time.Second
	DefaultRetryInterval = 30 * time.Second
)

const tracerName = "github.com/roach88/offsync/internal/engine"

// Coordinator is the only component that drains the queue.
//
// Thread-safety model:
//   - DrainOnce, Dispatch, Discard, RequestSync: safe from any goroutine
//   - Run: call from exactly one goroutine
//
// INVARIANTS:
//   - At most one drain runs at a time (draining CAS guard, plus the
//     storage lease when several processes share a database)
//   - A drain replays its snapshot strictly in enqueue order
//   - An action leaves the queue only after its replay succeeded and its
//     entity was reconciled, or by Discard
type Coordinator struct {
	queue    *queue.Queue
	store    *optimistic.Store
	registry *handlers.Registry
	exec     remote.Executor
	monitor  *connectivity.Monitor

	replayTimeout time.Duration
	retryInterval time.Duration

	// draining guards the queue against overlapping drains and discards.
	draining atomic.Bool

	// lease is nil unless WithDrainLease was given.
	lease *lease

	// dispatchMu keeps a drain snapshot from observing an action whose
	// optimistic apply has not finished.
	dispatchMu sync.Mutex

	trigger     *trigger
	unsubscribe func()
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReplayTimeout bounds every remote replay. A timeout is a failure.
func WithReplayTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.replayTimeout = d }
}

// WithRetryInterval sets the period of the retry tick in Run. Zero
// disables it.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.retryInterval = d }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithDrainLease makes drains and discards also take a lease stored in kv
// under DefaultLeaseKey, so coordinators in different processes sharing kv
// never drain at the same time. owner must be unique per process.
func WithDrainLease(kv store.KV, owner string) Option {
	return func(c *Coordinator) {
		c.lease = &lease{kv: kv, key: DefaultLeaseKey, owner: owner, now: time.Now}
	}
}

// New creates a Coordinator and subscribes it to monitor. Transitions to
// online request a drain, which Run performs.
func New(
	q *queue.Queue,
	s *optimistic.Store,
	registry *handlers.Registry,
	exec remote.Executor,
	monitor *connectivity.Monitor,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		queue:         q,
		store:         s,
		registry:      registry,
		exec:          exec,
		monitor:       monitor,
		replayTimeout: DefaultReplayTimeout,
		retryInterval: DefaultRetryInterval,
		trigger:       newTrigger(),
		tracer:        otel.Tracer(tracerName),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.lease != nil {
		c.lease.ttl = max(30*time.Second, 3*c.replayTimeout)
	}

	c.unsubscribe = monitor.Subscribe(func(tr connectivity.Transition) {
		if tr.Online {
			c.trigger.fire(ReasonOnline)
		}
	})
	return c
}

// Close detaches the coordinator from the connectivity monitor.
func (c *Coordinator) Close() {
	c.unsubscribe()
}

// RequestSync asks the Run loop to drain. It never blocks.
func (c *Coordinator) RequestSync() {
	c.trigger.fire(ReasonRequested)
}

// Pending returns the queued actions in enqueue order.
func (c *Coordinator) Pending() []ir.QueuedAction {
	return c.queue.List()
}

// Draining reports whether a drain is in flight.
func (c *Coordinator) Draining() bool {
	return c.draining.Load()
}

// Run performs drains requested by connectivity transitions, RequestSync
// and the retry tick until ctx is cancelled. Returns ctx.Err().
//
// A non-empty queue is drained once at startup when online, so actions left
// over from a previous process are not stranded until the next transition.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting", "pending", c.queue.Len(), "online", c.monitor.Online())

	var tick <-chan time.Time
	if c.retryInterval > 0 {
		ticker := time.NewTicker(c.retryInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if c.monitor.Online() && c.queue.Len() > 0 {
		c.trigger.fire(ReasonStartup)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping: context cancelled")
			return ctx.Err()

		case <-c.trigger.wait():
			reasons := c.trigger.take()
			c.runDrain(ctx, reasons)

		case <-tick:
			// The queue may have been written by another process, so the
			// tick does not consult the in-memory length.
			if c.monitor.Online() {
				c.runDrain(ctx, []Reason{ReasonRetry})
			}
		}
	}
}

func (c *Coordinator) runDrain(ctx context.Context, reasons []Reason) {
	report, err := c.DrainOnce(ctx)
	if err != nil && ctx.Err() == nil {
		c.logger.Error("drain failed", "reasons", reasons, "error", err)
		return
	}
	c.logger.Debug("drain finished",
		"reasons", reasons,
		"skipped", report.Skipped,
		"attempted", report.Attempted,
		"replayed", len(report.Replayed),
		"failed", len(report.Failures),
		"deferred", report.Deferred,
	)
}

// DrainOnce replays every queued action once, in enqueue order.
//
// If another drain is running, in this process or in another one holding
// the drain lease, it returns Report{Skipped: true} and a nil error without
// touching anything. The queue and the store are reloaded from storage
// first, so actions written by other processes are replayed too. A failing
// action is left queued and the drain moves on to the next one. The
// returned error is non-nil only if ctx was cancelled or storage could not
// be read.
func (c *Coordinator) DrainOnce(ctx context.Context) (Report, error) {
	if !c.draining.CompareAndSwap(false, true) {
		c.logger.Debug("drain skipped: already in progress")
		return Report{Skipped: true}, nil
	}
	defer c.draining.Store(false)

	if !c.monitor.Online() {
		c.logger.Debug("drain deferred: offline", "pending", c.queue.Len())
		return Report{Offline: true}, nil
	}

	held, err := c.acquireLease(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("drain: %w", err)
	}
	if !held {
		return Report{Skipped: true}, nil
	}
	defer c.releaseLease(ctx)

	c.dispatchMu.Lock()
	err = c.reload(ctx)
	snapshot := c.queue.List()
	c.dispatchMu.Unlock()
	if err != nil {
		return Report{}, fmt.Errorf("drain: %w", err)
	}
	if len(snapshot) == 0 {
		c.logger.Debug("drain finished: queue empty")
		return Report{}, nil
	}

	ctx, span := c.tracer.Start(ctx, "offsync.drain", trace.WithAttributes(
		attribute.Int("queue.length", len(snapshot)),
	))
	defer span.End()

	var report Report
	for i, qa := range snapshot {
		if err := ctx.Err(); err != nil {
			report.Deferred = len(snapshot) - i
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
		if !c.monitor.Online() {
			report.Deferred = len(snapshot) - i
			c.logger.Info("drain interrupted: offline", "deferred", report.Deferred)
			break
		}
		if c.lease != nil {
			if err := c.lease.acquire(ctx); err != nil {
				report.Deferred = len(snapshot) - i
				c.logger.Warn("drain interrupted: lease not renewed", "deferred", report.Deferred, "error", err)
				break
			}
		}

		report.Attempted++
		replayed, rerr := c.replay(ctx, qa)
		if rerr != nil {
			report.Failures = append(report.Failures, rerr)
			continue
		}
		report.Replayed = append(report.Replayed, replayed)
	}

	span.SetAttributes(
		attribute.Int("drain.replayed", len(report.Replayed)),
		attribute.Int("drain.failed", len(report.Failures)),
		attribute.Int("drain.deferred", report.Deferred),
	)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d replay failures", len(report.Failures)))
	}

	c.logger.Info("drain complete",
		"attempted", report.Attempted,
		"replayed", len(report.Replayed),
		"failed", len(report.Failures),
		"remaining", c.queue.Len(),
	)
	return report, nil
}

// replay sends one action and, on success, reconciles and dequeues it.
func (c *Coordinator) replay(ctx context.Context, qa ir.QueuedAction) (Replayed, *ReplayError) {
	ctx, span := c.tracer.Start(ctx, "offsync.replay", trace.WithAttributes(
		attribute.String("action.id", qa.ID),
		attribute.String("action.type", string(qa.Type)),
		attribute.Int64("action.seq", qa.Seq),
	))
	defer span.End()

	fail := func(stage ReplayStage, err error) (Replayed, *ReplayError) {
		rerr := newReplayError(qa, stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("replay failed",
			"action_id", qa.ID,
			"type", qa.Type,
			"stage", stage,
			"retryable", rerr.Retryable,
			"error", err,
		)
		return Replayed{}, rerr
	}

	h, err := c.registry.Get(qa.Type)
	if err != nil {
		return fail(StageHandler, err)
	}

	rctx, cancel := context.WithTimeout(ctx, c.replayTimeout)
	res, err := h.ReplayRemote(rctx, c.exec, c.store, qa)
	cancel()
	if err != nil {
		return fail(StageRemote, err)
	}
	span.SetAttributes(
		attribute.String("remote.server_id", res.ServerID),
		attribute.Bool("remote.duplicate", res.Duplicate),
	)

	// A created appointment must be reconciled before its action leaves the
	// queue. If it is not visible yet (another process is between enqueue
	// and apply) the action stays queued and the next replay deduplicates.
	if qa.Type.CreatesAppointment() {
		if _, err := c.store.Reconcile(ctx, qa.ID, res.ServerID); err != nil {
			return fail(StageReconcile, err)
		}
	}

	if err := c.queue.Remove(ctx, qa.ID); err != nil {
		return fail(StageRemove, err)
	}

	c.logger.Debug("action replayed", "action_id", qa.ID, "server_id", res.ServerID, "duplicate", res.Duplicate)
	return Replayed{ActionID: qa.ID, ServerID: res.ServerID, Duplicate: res.Duplicate}, nil
}

// Dispatch is the write path for user actions.
//
// The action is validated, durably enqueued and applied optimistically. If
// the monitor reports online the queue is drained immediately; if a drain
// is already running a sync is requested instead. A persistence failure is
// returned before anything becomes visible.
func (c *Coordinator) Dispatch(ctx context.Context, action ir.Action) (DispatchResult, error) {
	if err := c.registry.Validate(action); err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch: %w", err)
	}
	h, err := c.registry.Get(action.Type)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch: %w", err)
	}

	c.dispatchMu.Lock()
	id, err := c.queue.Enqueue(ctx, action)
	if err != nil {
		c.dispatchMu.Unlock()
		return DispatchResult{}, fmt.Errorf("dispatch: %w", err)
	}
	qa, _ := c.queue.Get(id)

	entity, err := h.ApplyOptimistic(ctx, c.store, qa)
	if err != nil {
		// Withdraw the action: it must not reach the server without its
		// local effect.
		if rmErr := c.queue.Remove(ctx, id); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		c.dispatchMu.Unlock()
		return DispatchResult{}, fmt.Errorf("dispatch %s: %w", id, err)
	}
	c.dispatchMu.Unlock()

	c.logger.Info("action dispatched", "action_id", id, "type", action.Type, "entity_id", entity.ID)
	result := DispatchResult{ActionID: id, Entity: entity}

	if !c.monitor.Online() {
		return result, nil
	}

	report, err := c.DrainOnce(ctx)
	if err != nil {
		c.logger.Warn("immediate drain interrupted", "action_id", id, "error", err)
		return result, nil
	}
	if report.Skipped {
		c.RequestSync()
	}
	result.Drain = &report
	_, queued := c.queue.Get(id)
	result.Synced = !queued
	if current, ok := c.store.Get(entity.ID); ok {
		result.Entity = current
	}
	return result, nil
}

// Discard removes a queued action without replaying it. An appointment the
// action created is withdrawn (Pending -> Rejected).
//
// Only actions that create an appointment can be discarded: the optimistic
// effect of any other action, such as a cancellation, cannot be undone
// locally, so Discard refuses it with ErrIrreversible. Returns
// ErrDrainInProgress while a drain is running.
func (c *Coordinator) Discard(ctx context.Context, actionID string) error {
	if !c.draining.CompareAndSwap(false, true) {
		return fmt.Errorf("discard %s: %w", actionID, ErrDrainInProgress)
	}
	defer c.draining.Store(false)

	held, err := c.acquireLease(ctx)
	if err != nil {
		return fmt.Errorf("discard %s: %w", actionID, err)
	}
	if !held {
		return fmt.Errorf("discard %s: %w", actionID, ErrDrainInProgress)
	}
	defer c.releaseLease(ctx)

	c.dispatchMu.Lock()
	err = c.reload(ctx)
	c.dispatchMu.Unlock()
	if err != nil {
		return fmt.Errorf("discard %s: %w", actionID, err)
	}

	qa, ok := c.queue.Get(actionID)
	if !ok {
		return fmt.Errorf("discard %s: %w", actionID, ir.ErrNotFound)
	}
	if !qa.Type.CreatesAppointment() {
		return fmt.Errorf("discard %s (%s): %w", actionID, qa.Type, ErrIrreversible)
	}
	if err := c.queue.Remove(ctx, actionID); err != nil {
		return fmt.Errorf("discard %s: %w", actionID, err)
	}

	entity, ok := c.store.FindBySourceAction(actionID)
	if ok && entity.Status == ir.StatusPending {
		if _, err := c.store.UpdateStatus(ctx, entity.ID, ir.StatusRejected); err != nil {
			return fmt.Errorf("discard %s: withdraw %s: %w", actionID, entity.ID, err)
		}
	}

	c.logger.Info("action discarded", "action_id", actionID, "type", qa.Type)
	return nil
}

// reload refreshes the queue and the store from storage.
func (c *Coordinator) reload(ctx context.Context) error {
	if err := c.queue.Reload(ctx); err != nil {
		return err
	}
	return c.store.Reload(ctx)
}

// acquireLease takes the drain lease when one is configured. held is false
// when another process owns it.
func (c *Coordinator) acquireLease(ctx context.Context) (held bool, err error) {
	if c.lease == nil {
		return true, nil
	}
	err = c.lease.acquire(ctx)
	if errors.Is(err, errLeaseHeld) {
		c.logger.Debug("drain skipped: lease held elsewhere", "error", err)
		return false, nil
	}
	if err != nil {
		return false, ir.Persistence("acquire drain lease", err)
	}
	return true, nil
}

func (c *Coordinator) releaseLease(ctx context.Context) {
	if c.lease == nil {
		return
	}
	if err := c.lease.release(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("drain lease not released", "error", err)
	}
}
