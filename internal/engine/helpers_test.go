package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/handlers"
	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/optimistic"
	"github.com/roach88/offsync/internal/queue"
	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	kv      store.KV
	queue   *queue.Queue
	store   *optimistic.Store
	server  *remote.Server
	monitor *connectivity.Monitor
	coord   *Coordinator
}

type fixtureOpts struct {
	online bool
	kv     store.KV
	exec   func(srv *remote.Server) remote.Executor
	opts   []Option
}

func newFixture(t *testing.T, fo fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()

	kv := fo.kv
	if kv == nil {
		kv = store.NewMemory()
	}
	clock := testutil.NewStepClock(time.Second)

	q, err := queue.Open(ctx, kv,
		queue.WithIDGenerator(queue.NewSequenceGenerator("act")),
		queue.WithNow(clock.Now),
		queue.WithLogger(discardLogger),
	)
	require.NoError(t, err)
	s, err := optimistic.Open(ctx, kv, optimistic.WithNow(clock.Now), optimistic.WithLogger(discardLogger))
	require.NoError(t, err)

	srv := remote.NewServer(remote.WithServerLogger(discardLogger))
	var exec remote.Executor = srv
	if fo.exec != nil {
		exec = fo.exec(srv)
	}
	mon := connectivity.New(fo.online, connectivity.WithLogger(discardLogger))

	opts := append([]Option{WithLogger(discardLogger), WithReplayTimeout(time.Second)}, fo.opts...)
	c := New(q, s, handlers.Default(), exec, mon, opts...)
	t.Cleanup(c.Close)

	return &fixture{kv: kv, queue: q, store: s, server: srv, monitor: mon, coord: c}
}

func booking(patient string) ir.Action {
	return ir.NewAction(ir.BookAppointment{
		PatientID: patient,
		DoctorID:  "d1",
		Date:      "2025-09-01",
		Time:      "09:00",
	})
}

func queuedIDs(q *queue.Queue) []string {
	var out []string
	for qa := range q.All() {
		out = append(out, qa.ID)
	}
	return out
}
