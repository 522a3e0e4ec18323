package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/offsync/internal/store"
)

// ErrInjected is returned by FlakyKV when a failure has been armed.
var ErrInjected = errors.New("injected storage failure")

// FlakyKV wraps a KV and fails writes on demand. Armed failures apply to
// Save and to the write half of Update alike.
//
// Tests use it to drive the persistence-failure paths of the queue and the
// optimistic store without touching the filesystem.
type FlakyKV struct {
	mu        sync.Mutex
	inner     store.KV
	failSaves int
	failAll   bool
	failLoads bool
	failKeys  map[string]bool
	saves     int
}

var _ store.KV = (*FlakyKV)(nil)

// NewFlakyKV wraps inner. A nil inner uses a fresh store.Memory.
func NewFlakyKV(inner store.KV) *FlakyKV {
	if inner == nil {
		inner = store.NewMemory()
	}
	return &FlakyKV{inner: inner}
}

// FailNextSaves makes the next n writes return ErrInjected.
func (f *FlakyKV) FailNextSaves(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSaves = n
}

// FailSaves makes every write fail until called again with false.
func (f *FlakyKV) FailSaves(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

// FailKey makes every write to key fail until called again with false.
func (f *FlakyKV) FailKey(key string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys == nil {
		f.failKeys = make(map[string]bool)
	}
	f.failKeys[key] = fail
}

// FailLoads makes every Load and Update fail until called again with false.
func (f *FlakyKV) FailLoads(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLoads = fail
}

// Saves returns how many writes reached the wrapped store.
func (f *FlakyKV) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// write consumes an armed failure for key, or counts a write.
func (f *FlakyKV) write(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failKeys[key] {
		return ErrInjected
	}
	if f.failSaves > 0 {
		f.failSaves--
		return ErrInjected
	}
	f.saves++
	return nil
}

// Save implements store.KV.
func (f *FlakyKV) Save(ctx context.Context, key string, value []byte) error {
	if err := f.write(key); err != nil {
		return err
	}
	return f.inner.Save(ctx, key, value)
}

// Update implements store.KV. An update whose fn declines to write does
// not consume an armed failure.
func (f *FlakyKV) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	f.mu.Lock()
	fail := f.failLoads
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.inner.Update(ctx, key, func(current []byte, found bool) ([]byte, error) {
		next, err := fn(current, found)
		if err != nil {
			return nil, err
		}
		if err := f.write(key); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// Load implements store.KV.
func (f *FlakyKV) Load(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	fail := f.failLoads
	f.mu.Unlock()
	if fail {
		return nil, false, ErrInjected
	}
	return f.inner.Load(ctx, key)
}
