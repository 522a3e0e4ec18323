package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/ir"
	"github.com/roach88/offsync/internal/store"
)

// DefaultKey is the storage key holding the entity document.
const DefaultKey = "offsync/appointments"

type document struct {
	Version      int               `json:"version"`
	Appointments []ir.Appointment  `json:"appointments"`
	Aliases      map[string]string `json:"aliases,omitempty"`
}

// errUnchanged aborts an update that has nothing to write.
var errUnchanged = errors.New("appointments unchanged")

// Store is the optimistic appointment collection.
//
// Every mutation is a read-modify-write of the stored document and is made
// visible only after storage accepted it. A failed write leaves the
// in-memory state untouched.
type Store struct {
	mu      sync.Mutex
	kv      store.KV
	key     string
	entries []ir.Appointment
	aliases map[string]string // retired id -> current id
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the wall clock used for CreatedAt/UpdatedAt.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithKey overrides the storage key (default DefaultKey).
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open loads the persisted collection from kv.
func Open(ctx context.Context, kv store.KV, opts ...Option) (*Store, error) {
	s := &Store{
		kv:      kv,
		key:     DefaultKey,
		aliases: map[string]string{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	s.logger.Debug("appointments loaded", "key", s.key, "count", len(s.entries))
	return s, nil
}

// Reload replaces the in-memory view with the stored collection.
func (s *Store) Reload(ctx context.Context) error {
	data, found, err := s.kv.Load(ctx, s.key)
	if err != nil {
		return ir.Persistence("load appointments", err)
	}
	doc, err := decode(data, found)
	if err != nil {
		return ir.Persistence("decode appointments", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.install(doc)
	return nil
}

// Apply inserts entity as the optimistic effect of qa.
//
// Apply is idempotent per action: if an entity already carries qa.ID as its
// source action, that entity is returned with created=false and nothing is
// written.
func (s *Store) Apply(ctx context.Context, qa ir.QueuedAction, entity ir.Appointment) (ir.Appointment, bool, error) {
	if entity.ID == "" {
		return ir.Appointment{}, false, fmt.Errorf("apply %s: entity has no id", qa.ID)
	}
	if !entity.Status.Valid() {
		return ir.Appointment{}, false, fmt.Errorf("apply %s: unknown status %q", qa.ID, entity.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entity.SourceActionID = qa.ID
	var existing *ir.Appointment
	err := s.mutate(ctx, "apply", func(doc *document) error {
		if i := indexBySource(doc.Appointments, qa.ID); i >= 0 {
			existing = &doc.Appointments[i]
			return errUnchanged
		}
		if indexOf(doc.Appointments, entity.ID) >= 0 || doc.Aliases[entity.ID] != "" {
			return fmt.Errorf("apply %s: entity id %q already in use", qa.ID, entity.ID)
		}
		now := s.now().UTC()
		if entity.CreatedAt.IsZero() {
			entity.CreatedAt = now
		}
		entity.UpdatedAt = now
		doc.Appointments = append(doc.Appointments, entity)
		return nil
	})
	if err != nil {
		return ir.Appointment{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	s.logger.Debug("optimistic apply", "action_id", qa.ID, "entity_id", entity.ID, "status", entity.Status)
	return entity, true, nil
}

// UpdateStatus moves entity id to status.
//
// Transitions outside the state machine fail with *ir.TransitionError and
// leave the entity unchanged. id may be a retired provisional id.
func (s *Store) UpdateStatus(ctx context.Context, id string, status ir.Status) (ir.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current, updated ir.Appointment
	err := s.mutate(ctx, "update status", func(doc *document) error {
		i := indexOf(doc.Appointments, resolve(doc.Aliases, id))
		if i < 0 {
			return fmt.Errorf("update status %s: %w", id, ir.ErrNotFound)
		}
		current = doc.Appointments[i]
		if !ir.CanTransition(current.Status, status) {
			return &ir.TransitionError{EntityID: current.ID, From: current.Status, To: status}
		}
		updated = current
		updated.Status = status
		updated.UpdatedAt = s.now().UTC()
		doc.Appointments[i] = updated
		return nil
	})
	if err != nil {
		return current, err
	}

	s.logger.Info("appointment status changed", "entity_id", updated.ID, "from", current.Status, "to", status)
	return updated, nil
}

// Reconcile records that the action that created an entity reached the
// server. If serverID differs from the entity's id the entity is renamed
// and the old id becomes an alias. Status is never changed here.
func (s *Store) Reconcile(ctx context.Context, actionID, serverID string) (ir.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current, updated ir.Appointment
	remap := false
	err := s.mutate(ctx, "reconcile", func(doc *document) error {
		i := indexBySource(doc.Appointments, actionID)
		if i < 0 {
			return fmt.Errorf("reconcile %s: %w", actionID, ir.ErrNotFound)
		}
		current = doc.Appointments[i]
		updated = current
		remap = serverID != "" && serverID != current.ID
		if current.Synced && !remap {
			return errUnchanged
		}

		updated.Synced = true
		updated.UpdatedAt = s.now().UTC()
		if remap {
			if j := indexOf(doc.Appointments, serverID); j >= 0 && j != i {
				return fmt.Errorf("reconcile %s: server id %q already belongs to another entity", actionID, serverID)
			}
			if doc.Aliases == nil {
				doc.Aliases = map[string]string{}
			}
			for old, target := range doc.Aliases {
				if target == current.ID {
					doc.Aliases[old] = serverID
				}
			}
			doc.Aliases[current.ID] = serverID
			delete(doc.Aliases, serverID)
			updated.ID = serverID
		}
		doc.Appointments[i] = updated
		return nil
	})
	if err != nil {
		if updated.ID == "" {
			return ir.Appointment{}, err
		}
		return current, err
	}

	if remap {
		s.logger.Info("appointment id remapped", "action_id", actionID, "from", current.ID, "to", serverID)
	}
	return updated, nil
}

// List returns the visible appointments, Pending and Confirmed together, in
// creation order.
func (s *Store) List() []ir.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ir.Appointment, 0, len(s.entries))
	for _, a := range s.entries {
		if a.Status == ir.StatusPending || a.Status == ir.StatusConfirmed {
			out = append(out, a)
		}
	}
	return out
}

// All returns every appointment, terminal ones included, in creation order.
func (s *Store) All() []ir.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Get returns the appointment with id, following aliases.
func (s *Store) Get(id string) (ir.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(s.resolve(id)); i >= 0 {
		return s.entries[i], true
	}
	return ir.Appointment{}, false
}

// Resolve returns the current id for id. Ids that were never remapped are
// returned unchanged.
func (s *Store) Resolve(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolve(id)
}

// FindBySourceAction returns the appointment created by actionID.
func (s *Store) FindBySourceAction(actionID string) (ir.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexBySource(actionID); i >= 0 {
		return s.entries[i], true
	}
	return ir.Appointment{}, false
}

func (s *Store) resolve(id string) string {
	return resolve(s.aliases, id)
}

func (s *Store) indexOf(id string) int {
	return indexOf(s.entries, id)
}

func (s *Store) indexBySource(actionID string) int {
	return indexBySource(s.entries, actionID)
}

func resolve(aliases map[string]string, id string) string {
	if target, ok := aliases[id]; ok {
		return target
	}
	return id
}

func indexOf(entries []ir.Appointment, id string) int {
	return slices.IndexFunc(entries, func(a ir.Appointment) bool { return a.ID == id })
}

func indexBySource(entries []ir.Appointment, actionID string) int {
	return slices.IndexFunc(entries, func(a ir.Appointment) bool { return a.SourceActionID == actionID })
}

// mutate applies fn to the latest stored document and installs the result,
// so a write from another process sharing the database is never lost.
// Errors from fn are returned as they are; errUnchanged is swallowed and
// still refreshes the in-memory view. Caller must hold s.mu.
func (s *Store) mutate(ctx context.Context, op string, fn func(doc *document) error) error {
	var (
		next     document
		rejected error
	)
	err := s.kv.Update(ctx, s.key, func(current []byte, found bool) ([]byte, error) {
		doc, err := decode(current, found)
		if err != nil {
			return nil, err
		}
		next = doc
		if rejected = fn(&next); rejected != nil {
			return nil, rejected
		}
		next.Version = ir.SnapshotVersion
		if len(next.Aliases) == 0 {
			next.Aliases = nil
		}
		return json.Marshal(next)
	})
	switch {
	case errors.Is(rejected, errUnchanged):
		s.install(next)
		return nil
	case rejected != nil:
		return rejected
	case err != nil:
		return ir.Persistence(op, err)
	}
	s.install(next)
	return nil
}

// install makes doc the in-memory view. Caller must hold s.mu.
func (s *Store) install(doc document) {
	s.entries = doc.Appointments
	s.aliases = doc.Aliases
	if s.aliases == nil {
		s.aliases = map[string]string{}
	}
}

// decode parses a stored document. A missing document is an empty
// collection.
func decode(data []byte, found bool) (document, error) {
	doc := document{Version: ir.SnapshotVersion}
	if !found {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, err
	}
	if doc.Version > ir.SnapshotVersion {
		return document{}, fmt.Errorf("appointment document version %d is newer than supported version %d", doc.Version, ir.SnapshotVersion)
	}
	return doc, nil
}
