package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/offsync/internal/store"
)

// DefaultLeaseKey is the storage key of the drain lease.
const DefaultLeaseKey = "offsync/drain-lease"

// errLeaseHeld means another process owns an unexpired drain lease.
var errLeaseHeld = errors.New("drain lease held by another process")

type leaseRecord struct {
	Owner   string    `json:"owner,omitempty"`
	Expires time.Time `json:"expires"`
}

// lease extends the in-process drain guard to every process sharing one
// database. The owner renews it before each replay; a crashed owner's
// lease lapses after ttl.
type lease struct {
	kv    store.KV
	key   string
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// acquire takes or renews the lease. It fails with errLeaseHeld while
// another owner's lease is live.
func (l *lease) acquire(ctx context.Context) error {
	return l.kv.Update(ctx, l.key, func(current []byte, found bool) ([]byte, error) {
		rec := decodeLease(current, found)
		now := l.now()
		if rec.Owner != "" && rec.Owner != l.owner && now.Before(rec.Expires) {
			return nil, fmt.Errorf("%w: %s until %s", errLeaseHeld, rec.Owner, rec.Expires.UTC().Format(time.RFC3339))
		}
		return json.Marshal(leaseRecord{Owner: l.owner, Expires: now.Add(l.ttl)})
	})
}

// release gives the lease up if this owner still holds it.
func (l *lease) release(ctx context.Context) error {
	err := l.kv.Update(ctx, l.key, func(current []byte, found bool) ([]byte, error) {
		if decodeLease(current, found).Owner != l.owner {
			return nil, errLeaseHeld
		}
		return json.Marshal(leaseRecord{})
	})
	if errors.Is(err, errLeaseHeld) {
		return nil
	}
	return err
}

// decodeLease treats a missing or unreadable record as free.
func decodeLease(data []byte, found bool) leaseRecord {
	var rec leaseRecord
	if found && len(data) > 0 {
		if err := json.Unmarshal(data, &rec); err != nil {
			return leaseRecord{}
		}
	}
	return rec
}
