package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

func book(patient string) ir.Action {
	return ir.NewAction(ir.BookAppointment{
		PatientID: patient,
		DoctorID:  "dr-1",
		Date:      "2025-03-01",
		Time:      "10:00",
	})
}

func openTestQueue(t *testing.T, kv store.KV, ids ...string) *Queue {
	t.Helper()
	q, err := Open(context.Background(), kv,
		WithIDGenerator(NewFixedGenerator(ids...)),
		WithNow(testutil.NewStepClock(time.Second).Now),
	)
	require.NoError(t, err)
	return q
}

func ids(qas []ir.QueuedAction) []string {
	out := make([]string, len(qas))
	for i, qa := range qas {
		out[i] = qa.ID
	}
	return out
}

func TestOpen_EmptyStore(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.List())
}

func TestEnqueue_AssignsIDAndOrder(t *testing.T) {
	q := openTestQueue(t, store.NewMemory(), "a", "b", "c")
	ctx := context.Background()

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := q.Enqueue(ctx, book(p))
		require.NoError(t, err)
	}

	list := q.List()
	assert.Equal(t, []string{"a", "b", "c"}, ids(list))
	assert.Equal(t, int64(1), list[0].Seq)
	assert.Equal(t, int64(3), list[2].Seq)
	assert.Equal(t, testutil.Epoch, list[0].EnqueuedAt)
	assert.Equal(t, "p2", list[1].Payload.(ir.BookAppointment).PatientID)
}

func TestEnqueue_RejectsInvalidAction(t *testing.T) {
	q := openTestQueue(t, store.NewMemory())

	_, err := q.Enqueue(context.Background(), ir.Action{Type: "Teleport"})
	require.ErrorIs(t, err, ir.ErrUnknownAction)

	_, err = q.Enqueue(context.Background(), ir.Action{Type: ir.ActionBookAppointment})
	require.ErrorIs(t, err, ir.ErrInvalidPayload)

	assert.Equal(t, 0, q.Len())
}

func TestEnqueue_DuplicateIDFromGenerator(t *testing.T) {
	q := openTestQueue(t, store.NewMemory(), "same", "same")
	ctx := context.Background()

	_, err := q.Enqueue(ctx, book("p1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, book("p2"))
	require.Error(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestEnqueue_PersistenceFailureRollsBack(t *testing.T) {
	kv := testutil.NewFlakyKV(nil)
	q := openTestQueue(t, kv, "a", "b", "c")
	ctx := context.Background()

	_, err := q.Enqueue(ctx, book("p1"))
	require.NoError(t, err)

	kv.FailNextSaves(1)
	_, err = q.Enqueue(ctx, book("p2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ir.ErrPersistence)
	assert.ErrorIs(t, err, testutil.ErrInjected)

	assert.Equal(t, []string{"a"}, ids(q.List()), "failed enqueue must not be visible")

	reopened := openTestQueue(t, kv)
	assert.Equal(t, []string{"a"}, ids(reopened.List()), "failed enqueue must not be stored")

	_, err = q.Enqueue(ctx, book("p3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(q.List()))
}

func TestRemove_ExactIDs(t *testing.T) {
	q := openTestQueue(t, store.NewMemory(), "a", "b", "c", "d")
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, book(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	require.NoError(t, q.Remove(ctx, "b", "d", "unknown"))
	assert.Equal(t, []string{"a", "c"}, ids(q.List()))

	_, ok := q.Get("b")
	assert.False(t, ok)
	got, ok := q.Get("c")
	require.True(t, ok)
	assert.Equal(t, "p2", got.Payload.(ir.BookAppointment).PatientID)
}

func TestRemove_NoMatchSkipsWrite(t *testing.T) {
	kv := testutil.NewFlakyKV(nil)
	q := openTestQueue(t, kv, "a")
	ctx := context.Background()
	_, err := q.Enqueue(ctx, book("p1"))
	require.NoError(t, err)

	before := kv.Saves()
	require.NoError(t, q.Remove(ctx, "missing"))
	require.NoError(t, q.Remove(ctx))
	assert.Equal(t, before, kv.Saves())
}

func TestRemove_PersistenceFailureKeepsEntries(t *testing.T) {
	kv := testutil.NewFlakyKV(nil)
	q := openTestQueue(t, kv, "a", "b")
	ctx := context.Background()
	for _, p := range []string{"p1", "p2"} {
		_, err := q.Enqueue(ctx, book(p))
		require.NoError(t, err)
	}

	kv.FailNextSaves(1)
	err := q.Remove(ctx, "a")
	require.ErrorIs(t, err, ir.ErrPersistence)
	assert.Equal(t, []string{"a", "b"}, ids(q.List()))
}

func TestOpen_RestartRoundTrip(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	q := openTestQueue(t, kv, "a", "b", "c")
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := q.Enqueue(ctx, book(p))
		require.NoError(t, err)
	}
	require.NoError(t, q.Remove(ctx, "b"))
	want := q.List()

	reopened := openTestQueue(t, kv, "d")
	assert.Equal(t, want, reopened.List())

	_, err := reopened.Enqueue(ctx, book("p4"))
	require.NoError(t, err)
	last, _ := reopened.Get("d")
	assert.Equal(t, int64(4), last.Seq, "seq resumes after restart")
}

func TestOpen_SQLiteRoundTrip(t *testing.T) {
	path := t.TempDir() + "/queue.db"
	ctx := context.Background()

	db, err := store.Open(path)
	require.NoError(t, err)
	q := openTestQueue(t, db, "a", "b")
	_, err = q.Enqueue(ctx, book("p1"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, ir.NewAction(ir.CancelAppointment{AppointmentID: "local-a", Reason: "sick"}))
	require.NoError(t, err)
	want := q.List()
	require.NoError(t, db.Close())

	db2, err := store.Open(path)
	require.NoError(t, err)
	defer db2.Close()

	got := openTestQueue(t, db2).List()
	assert.Equal(t, want, got)
	assert.Equal(t, ir.CancelAppointment{AppointmentID: "local-a", Reason: "sick"}, got[1].Payload)
}

func TestOpen_LoadFailure(t *testing.T) {
	kv := testutil.NewFlakyKV(nil)
	kv.FailLoads(true)

	_, err := Open(context.Background(), kv)
	require.ErrorIs(t, err, ir.ErrPersistence)
}

func TestOpen_CorruptDocument(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Save(context.Background(), DefaultKey, []byte("{not json")))

	_, err := Open(context.Background(), kv)
	require.ErrorIs(t, err, ir.ErrPersistence)
}

func TestOpen_NewerDocumentVersion(t *testing.T) {
	kv := store.NewMemory()
	doc := fmt.Sprintf(`{"version":%d,"seq":0,"actions":[]}`, ir.SnapshotVersion+1)
	require.NoError(t, kv.Save(context.Background(), DefaultKey, []byte(doc)))

	_, err := Open(context.Background(), kv)
	require.ErrorIs(t, err, ir.ErrPersistence)
}

func TestList_ReturnsCopy(t *testing.T) {
	q := openTestQueue(t, store.NewMemory(), "a")
	_, err := q.Enqueue(context.Background(), book("p1"))
	require.NoError(t, err)

	list := q.List()
	list[0].ID = "mutated"
	assert.Equal(t, "a", q.List()[0].ID)
}

func TestAll_Restartable(t *testing.T) {
	q := openTestQueue(t, store.NewMemory(), "a", "b")
	ctx := context.Background()
	for _, p := range []string{"p1", "p2"} {
		_, err := q.Enqueue(ctx, book(p))
		require.NoError(t, err)
	}

	for pass := 0; pass < 2; pass++ {
		var got []string
		for qa := range q.All() {
			got = append(got, qa.ID)
		}
		assert.Equal(t, []string{"a", "b"}, got, "pass %d", pass)
	}

	var first []string
	for qa := range q.All() {
		first = append(first, qa.ID)
		break
	}
	assert.Equal(t, []string{"a"}, first)
}

func TestEnqueue_ConcurrentUniqueIDs(t *testing.T) {
	q, err := Open(context.Background(), store.NewMemory())
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), book(fmt.Sprintf("p%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	var lastSeq int64
	for _, qa := range q.List() {
		assert.False(t, seen[qa.ID], "duplicate id %s", qa.ID)
		seen[qa.ID] = true
		assert.Greater(t, qa.Seq, lastSeq, "slice order follows seq")
		lastSeq = qa.Seq
	}
	assert.Len(t, seen, n)
}

// Any interleaving of enqueues and removals, persisted and reloaded, yields
// the surviving actions in their original enqueue order.
func TestQueue_OrderPreservedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		kv := store.NewMemory()
		q, err := Open(ctx, kv, WithIDGenerator(NewSequenceGenerator("act")))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		var model []string
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(model) > 0 && rapid.Bool().Draw(t, "remove") {
				victim := model[rapid.IntRange(0, len(model)-1).Draw(t, "victim")]
				if err := q.Remove(ctx, victim); err != nil {
					t.Fatalf("Remove: %v", err)
				}
				kept := model[:0:0]
				for _, id := range model {
					if id != victim {
						kept = append(kept, id)
					}
				}
				model = kept
				continue
			}
			id, err := q.Enqueue(ctx, book(fmt.Sprintf("p%d", i)))
			if err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			model = append(model, id)
		}

		reopened, err := Open(ctx, kv)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		got := ids(reopened.List())
		if len(got) != len(model) {
			t.Fatalf("len = %d, want %d", len(got), len(model))
		}
		for i := range model {
			if got[i] != model[i] {
				t.Fatalf("position %d = %s, want %s", i, got[i], model[i])
			}
		}
	})
}

func TestEnqueue_CancelledContext(t *testing.T) {
	q := openTestQueue(t, store.NewMemory(), "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Enqueue(ctx, book("p1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ir.ErrPersistence))
	assert.Equal(t, 0, q.Len())
}

// Two queues opened on one database file behave like two offsync processes:
// one keeps a long-lived in-memory copy while the other appends.
func TestSharedDatabase_StaleQueueDoesNotDropAppends(t *testing.T) {
	path := t.TempDir() + "/shared.db"
	ctx := context.Background()

	runDB, err := store.Open(path)
	require.NoError(t, err)
	defer runDB.Close()
	running := openTestQueue(t, runDB, "a1")
	_, err = running.Enqueue(ctx, book("p1"))
	require.NoError(t, err)

	bookDB, err := store.Open(path)
	require.NoError(t, err)
	defer bookDB.Close()
	booking := openTestQueue(t, bookDB, "b1")
	_, err = booking.Enqueue(ctx, book("p2"))
	require.NoError(t, err)

	require.NoError(t, running.Remove(ctx, "a1"))
	assert.Equal(t, []string{"b1"}, ids(running.List()), "remove installs the stored queue")

	reopened := openTestQueue(t, bookDB)
	assert.Equal(t, []string{"b1"}, ids(reopened.List()))
}

func TestSharedDatabase_SeqIsNeverReused(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	first := openTestQueue(t, kv, "a")
	second := openTestQueue(t, kv, "b")

	_, err := first.Enqueue(ctx, book("p1"))
	require.NoError(t, err)
	_, err = second.Enqueue(ctx, book("p2"))
	require.NoError(t, err)

	list := second.List()
	require.Len(t, list, 2)
	assert.Equal(t, []int64{1, 2}, []int64{list[0].Seq, list[1].Seq})
}

func TestReload_PicksUpOtherWriters(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	reader := openTestQueue(t, kv)
	writer := openTestQueue(t, kv, "a", "b")
	for _, p := range []string{"p1", "p2"} {
		_, err := writer.Enqueue(ctx, book(p))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, reader.Len())

	require.NoError(t, reader.Reload(ctx))
	assert.Equal(t, []string{"a", "b"}, ids(reader.List()))

	require.NoError(t, writer.Remove(ctx, "a"))
	require.NoError(t, reader.Remove(ctx, "a"), "removing an id another writer already removed is a no-op")
	assert.Equal(t, []string{"b"}, ids(reader.List()))
}
