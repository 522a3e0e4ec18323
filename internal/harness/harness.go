package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/handlers"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/optimistic"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/testutil"
)

// Harness is one simulated client plus its remote collaborator.
// Storage, the server, the monitor and the id sequence outlive restarts;
// the queue, the optimistic store and the coordinator are rebuilt by them.
type Harness struct {
	kv       *testutil.FlakyKV
	server   *remote.Server
	monitor  *connectivity.Monitor
	registry *handlers.Registry
	ids      *queue.SequenceGenerator
	clock    *testutil.StepClock
	logger   *slog.Logger

	queue *queue.Queue
	store *optimistic.Store
	coord *engine.Coordinator
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against fresh in-memory storage. The returned error is
// non-nil only if the client could not be built; step failures and state
// mismatches are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewStepClock(time.Second)

	h := &Harness{
		kv:       testutil.NewFlakyKV(nil),
		server:   remote.NewServer(remote.WithServerLogger(logger)),
		monitor:  connectivity.New(scenario.Online, connectivity.WithLogger(logger), connectivity.WithNow(clock.Now)),
		registry: handlers.Default(),
		ids:      queue.NewSequenceGenerator("act"),
		clock:    clock,
		logger:   logger,
	}
	defer h.monitor.Close()

	ctx := context.Background()
	if err := h.open(ctx); err != nil {
		return nil, fmt.Errorf("failed to build client: %w", err)
	}
	defer func() { h.coord.Close() }()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		ev.Step = i + 1
		ev.Op = step.Op
		ev.Error = ErrorKind(err)
		ev.Queue = h.queue.Len()
		result.Trace = append(result.Trace, ev)

		switch {
		case step.ExpectError == "" && err != nil:
			result.AddError("steps[%d] (%s): unexpected error: %v", i, step.Op, err)
		case step.ExpectError != "" && ev.Error != step.ExpectError:
			result.AddError("steps[%d] (%s): expected error %q, got %q", i, step.Op, step.ExpectError, ev.Error)
		}
	}

	h.checkExpect(scenario.Expect, result)
	return result, nil
}

// open builds the queue, the store and the coordinator from storage.
func (h *Harness) open(ctx context.Context) error {
	q, err := queue.Open(ctx, h.kv,
		queue.WithIDGenerator(h.ids),
		queue.WithNow(h.clock.Now),
		queue.WithLogger(h.logger),
	)
	if err != nil {
		return err
	}
	s, err := optimistic.Open(ctx, h.kv,
		optimistic.WithNow(h.clock.Now),
		optimistic.WithLogger(h.logger),
	)
	if err != nil {
		return err
	}

	if h.coord != nil {
		h.coord.Close()
	}
	h.queue = q
	h.store = s
	h.coord = engine.New(q, s, h.registry, h.server, h.monitor,
		engine.WithRetryInterval(0),
		engine.WithLogger(h.logger),
	)
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	var ev TraceEvent

	switch step.Op {
	case OpBook, OpCancel:
		var action ir.Action
		if step.Op == OpBook {
			action = ir.NewAction(ir.BookAppointment{
				PatientID: step.Patient,
				DoctorID:  step.Doctor,
				Date:      step.Date,
				Time:      step.Time,
				Notes:     step.Notes,
			})
		} else {
			action = ir.NewAction(ir.CancelAppointment{
				AppointmentID: step.Appointment,
				Reason:        step.Reason,
			})
		}
		res, err := h.coord.Dispatch(ctx, action)
		if err != nil {
			return ev, err
		}
		ev.ActionID = res.ActionID
		setEntity(&ev, res.Entity)
		if res.Drain != nil {
			setReport(&ev, *res.Drain)
		}

	case OpOnline:
		// The transition would wake Run; the harness drains inline instead.
		if h.monitor.Report(true) {
			report, err := h.coord.DrainOnce(ctx)
			setReport(&ev, report)
			return ev, err
		}

	case OpOffline:
		h.monitor.Report(false)

	case OpDrain:
		report, err := h.coord.DrainOnce(ctx)
		setReport(&ev, report)
		return ev, err

	case OpRestart:
		return ev, h.open(ctx)

	case OpConfirm, OpReject:
		status := ir.StatusConfirmed
		if step.Op == OpReject {
			status = ir.StatusRejected
		}
		a, err := h.store.UpdateStatus(ctx, step.Appointment, status)
		if err != nil {
			return ev, err
		}
		setEntity(&ev, a)

	case OpDiscard:
		ev.ActionID = step.Action
		err := h.coord.Discard(ctx, step.Action)
		if a, ok := h.store.FindBySourceAction(step.Action); ok {
			setEntity(&ev, a)
		}
		return ev, err

	case OpFailNext:
		h.server.FailNext(step.Count)

	case OpFailStorage:
		h.kv.FailNextSaves(step.Count)

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}
	return ev, nil
}

func (h *Harness) checkExpect(exp Expect, result *Result) {
	if exp.QueueLen != nil {
		if got := h.queue.Len(); got != *exp.QueueLen {
			result.AddError("expect.queue_len: want %d, got %d", *exp.QueueLen, got)
		}
	}
	if exp.RemoteApplied != nil {
		if got := h.server.Applied(); got != *exp.RemoteApplied {
			result.AddError("expect.remote_applied: want %d, got %d", *exp.RemoteApplied, got)
		}
	}
	for i, want := range exp.Appointments {
		got, ok := h.store.Get(want.ID)
		if !ok {
			result.AddError("expect.appointments[%d]: %s not found", i, want.ID)
			continue
		}
		if want.ResolvesTo != "" && got.ID != want.ResolvesTo {
			result.AddError("expect.appointments[%d]: %s resolves to %s, want %s", i, want.ID, got.ID, want.ResolvesTo)
		}
		if want.Status != "" && got.Status != want.Status {
			result.AddError("expect.appointments[%d]: %s status %s, want %s", i, want.ID, got.Status, want.Status)
		}
		if want.Synced != nil && got.Synced != *want.Synced {
			result.AddError("expect.appointments[%d]: %s synced %t, want %t", i, want.ID, got.Synced, *want.Synced)
		}
	}
}

func setEntity(ev *TraceEvent, a ir.Appointment) {
	ev.EntityID = a.ID
	ev.Status = a.Status
	ev.Synced = a.Synced
}

func setReport(ev *TraceEvent, r engine.Report) {
	for _, rp := range r.Replayed {
		ev.Replayed = append(ev.Replayed, rp.ActionID)
	}
	for _, f := range r.Failures {
		ev.Failed = append(ev.Failed, failureLabel(f))
	}
	ev.Deferred = r.Deferred
}
