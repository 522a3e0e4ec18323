package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/store"
)

// DefaultKey is the storage key holding the queue document.
const DefaultKey = "offsync/queue"

// document is the persisted form of the queue.
type document struct {
	Version int               `json:"version"`
	Seq     int64             `json:"seq"`
	Actions []ir.QueuedAction `json:"actions"`
}

// Queue is the durable ordered list of actions awaiting remote replay.
//
// Thread-safety: all methods are safe for concurrent use. Each mutation
// holds the lock until storage has acknowledged the write. Other processes
// may write the same document; mutations always apply to the latest stored
// copy, and Reload picks up their writes for the read methods.
type Queue struct {
	mu      sync.Mutex
	kv      store.KV
	key     string
	actions []ir.QueuedAction
	ids     IDGenerator
	now     func() time.Time
	logger  *slog.Logger
}

// errUnchanged aborts an update that has nothing to write.
var errUnchanged = errors.New("queue unchanged")

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator overrides the id generator (default UUIDv7Generator).
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithNow overrides the wall clock used for EnqueuedAt.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithKey overrides the storage key (default DefaultKey).
func WithKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Open loads the persisted queue from kv, preserving order exactly.
// A missing document yields an empty queue.
func Open(ctx context.Context, kv store.KV, opts ...Option) (*Queue, error) {
	q := &Queue{
		kv:     kv,
		key:    DefaultKey,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.Reload(ctx); err != nil {
		return nil, err
	}
	q.logger.Debug("queue loaded", "key", q.key, "len", len(q.actions))
	return q, nil
}

// Reload replaces the in-memory view with the stored queue.
func (q *Queue) Reload(ctx context.Context) error {
	data, found, err := q.kv.Load(ctx, q.key)
	if err != nil {
		return ir.Persistence("load queue", err)
	}
	doc, err := decode(data, found)
	if err != nil {
		return ir.Persistence("decode queue", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = doc.Actions
	return nil
}

// Enqueue assigns an id to action, appends it and persists the queue.
//
// If storage rejects the write the append is rolled back and the returned
// error matches ir.ErrPersistence; the caller must not treat the action as
// recorded.
func (q *Queue) Enqueue(ctx context.Context, action ir.Action) (string, error) {
	if err := action.Validate(); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.ids.Generate()
	qa := ir.QueuedAction{
		ID:         id,
		Type:       action.Type,
		Payload:    action.Payload,
		EnqueuedAt: q.now().UTC(),
	}

	err := q.mutate(ctx, "enqueue", func(doc *document) error {
		if slices.ContainsFunc(doc.Actions, func(e ir.QueuedAction) bool { return e.ID == id }) {
			return fmt.Errorf("enqueue: id generator returned duplicate id %q", id)
		}
		seq := resumeSequence(doc.Seq, doc.Actions)
		qa.Seq = seq.next()
		doc.Seq = seq.last
		doc.Actions = append(doc.Actions, qa)
		return nil
	})
	if err != nil {
		if errors.Is(err, ir.ErrPersistence) {
			q.logger.Error("enqueue not durable", "action_id", id, "type", action.Type, "error", err)
		}
		return "", err
	}

	q.logger.Debug("action enqueued", "action_id", id, "type", action.Type, "seq", qa.Seq, "len", len(q.actions))
	return id, nil
}

// Remove deletes exactly the given ids. Unknown ids are ignored; removing
// nothing does not write to storage.
func (q *Queue) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	removed := 0
	err := q.mutate(ctx, "remove", func(doc *document) error {
		kept := make([]ir.QueuedAction, 0, len(doc.Actions))
		for _, qa := range doc.Actions {
			if _, ok := drop[qa.ID]; !ok {
				kept = append(kept, qa)
			}
		}
		removed = len(doc.Actions) - len(kept)
		if removed == 0 {
			return errUnchanged
		}
		doc.Actions = kept
		return nil
	})
	if err != nil {
		return err
	}

	q.logger.Debug("actions removed", "count", removed, "len", len(q.actions))
	return nil
}

// List returns a copy of the queued actions in enqueue order.
func (q *Queue) List() []ir.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.actions)
}

// All returns an iterator over a snapshot of the queue taken when iteration
// starts. It may be ranged over more than once.
func (q *Queue) All() iter.Seq[ir.QueuedAction] {
	return func(yield func(ir.QueuedAction) bool) {
		for _, qa := range q.List() {
			if !yield(qa) {
				return
			}
		}
	}
}

// Get returns the queued action with the given id.
func (q *Queue) Get(id string) (ir.QueuedAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexOf(id); i >= 0 {
		return q.actions[i], true
	}
	return ir.QueuedAction{}, false
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *Queue) indexOf(id string) int {
	return slices.IndexFunc(q.actions, func(qa ir.QueuedAction) bool { return qa.ID == id })
}

// mutate applies fn to the latest stored document and installs the result.
// Errors from fn are returned as they are; errUnchanged is swallowed and
// still refreshes the in-memory view. Caller must hold q.mu.
func (q *Queue) mutate(ctx context.Context, op string, fn func(doc *document) error) error {
	var (
		next     document
		rejected error
	)
	err := q.kv.Update(ctx, q.key, func(current []byte, found bool) ([]byte, error) {
		doc, err := decode(current, found)
		if err != nil {
			return nil, err
		}
		next = doc
		if rejected = fn(&next); rejected != nil {
			return nil, rejected
		}
		next.Version = ir.SnapshotVersion
		return json.Marshal(next)
	})
	switch {
	case errors.Is(rejected, errUnchanged):
		q.actions = next.Actions
		return nil
	case rejected != nil:
		return rejected
	case err != nil:
		return ir.Persistence(op, err)
	}
	q.actions = next.Actions
	return nil
}

// decode parses a stored queue document. A missing document is an empty
// queue.
func decode(data []byte, found bool) (document, error) {
	doc := document{Version: ir.SnapshotVersion}
	if found {
		if err := json.Unmarshal(data, &doc); err != nil {
			return document{}, err
		}
		if doc.Version > ir.SnapshotVersion {
			return document{}, fmt.Errorf("queue document version %d is newer than supported version %d", doc.Version, ir.SnapshotVersion)
		}
	}
	if doc.Actions == nil {
		doc.Actions = []ir.QueuedAction{}
	}
	return doc, nil
}
