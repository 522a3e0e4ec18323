package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/remote"
	"github.com/roach88/offsync/internal/store"
)

func TestLease_AcquireRenewExpireRelease(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	now := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := &lease{kv: kv, key: DefaultLeaseKey, owner: "a", ttl: time.Minute, now: clock}
	b := &lease{kv: kv, key: DefaultLeaseKey, owner: "b", ttl: time.Minute, now: clock}

	require.NoError(t, a.acquire(ctx))
	require.NoError(t, a.acquire(ctx), "renewal")
	require.ErrorIs(t, b.acquire(ctx), errLeaseHeld)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.acquire(ctx), "an expired lease is taken over")
	require.ErrorIs(t, a.acquire(ctx), errLeaseHeld)

	require.NoError(t, a.release(ctx), "releasing a lease owned by someone else is a no-op")
	require.ErrorIs(t, a.acquire(ctx), errLeaseHeld)

	require.NoError(t, b.release(ctx))
	require.NoError(t, a.acquire(ctx))
}

func TestLease_UnreadableRecordIsFree(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.Save(ctx, DefaultLeaseKey, []byte("{not json")))

	l := &lease{kv: kv, key: DefaultLeaseKey, owner: "a", ttl: time.Minute, now: time.Now}
	require.NoError(t, l.acquire(ctx))
}

func TestDrainLease_HeldElsewhereSkips(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	f := newFixture(t, fixtureOpts{kv: kv, online: true, opts: []Option{WithDrainLease(kv, "proc-a")}})
	other := &lease{kv: kv, key: DefaultLeaseKey, owner: "proc-b", ttl: time.Minute, now: time.Now}
	require.NoError(t, other.acquire(ctx))

	res, err := f.coord.Dispatch(ctx, booking("p1"))
	require.NoError(t, err)
	require.NotNil(t, res.Drain)
	assert.True(t, res.Drain.Skipped)
	assert.False(t, res.Synced)

	require.ErrorIs(t, f.coord.Discard(ctx, "act-1"), ErrDrainInProgress)
	assert.Equal(t, []string{"act-1"}, queuedIDs(f.queue))

	require.NoError(t, other.release(ctx))
	report, err := f.coord.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Replayed, 1)
	require.NoError(t, other.acquire(ctx), "the drain released its lease")
}

func TestDrainLease_TwoCoordinatorsNeverOverlap(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	a := newFixture(t, fixtureOpts{kv: kv, opts: []Option{WithDrainLease(kv, "proc-a")},
		exec: func(srv *remote.Server) remote.Executor {
			return remote.ExecutorFunc(func(ctx context.Context, req remote.Request) (remote.Result, error) {
				if calls.Add(1) == 1 {
					close(entered)
					<-release
				}
				return srv.Execute(ctx, req)
			})
		}})
	b := newFixture(t, fixtureOpts{kv: kv, online: true, opts: []Option{WithDrainLease(kv, "proc-b")}})

	_, err := a.coord.Dispatch(ctx, booking("p1"))
	require.NoError(t, err)
	a.monitor.Report(true)

	first := make(chan Report, 1)
	go func() {
		r, _ := a.coord.DrainOnce(ctx)
		first <- r
	}()
	<-entered

	r, err := b.coord.DrainOnce(ctx)
	require.NoError(t, err)
	assert.True(t, r.Skipped)
	require.ErrorIs(t, b.coord.Discard(ctx, "act-1"), ErrDrainInProgress)

	close(release)
	assert.Len(t, (<-first).Replayed, 1)

	r, err = b.coord.DrainOnce(ctx)
	require.NoError(t, err)
	assert.False(t, r.Skipped)
	assert.Zero(t, r.Attempted, "the other process already drained the queue")
	assert.Equal(t, 1, a.server.Applied())
	assert.Zero(t, b.server.Applied())
}
