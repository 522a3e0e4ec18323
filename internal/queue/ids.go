package queue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces queued action ids.
// Implementations must never return the same id twice.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator is the production generator. Ids sort by creation time,
// which keeps stored queues and server logs in enqueue order when read.
type UUIDv7Generator struct{}

// Generate panics only if the system entropy source fails.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a fixed list of ids, for tests.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator returns a generator that yields ids in order and panics
// once they run out.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic(fmt.Sprintf("FixedGenerator: no id left after %d", len(g.ids)))
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequenceGenerator returns prefix-1, prefix-2, ... without limit.
// The scenario harness uses it so golden traces carry readable ids.
type SequenceGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceGenerator creates a generator starting at prefix-1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
