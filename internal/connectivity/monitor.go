// Package connectivity tracks whether the remote service is reachable.
//
// The Monitor is the only owner of the online flag. It does not touch the
// queue; it only tells subscribers that the state changed.
package connectivity

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Transition is delivered to subscribers on every genuine state change.
type Transition struct {
	Online bool
	At     time.Time
}

// Prober checks reachability. A nil error means online.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor holds the current connectivity state.
//
// Thread-safety: all methods are safe for concurrent use. Listeners run on
// the goroutine that called Report, one transition at a time, in the order
// transitions happened. A listener must not call Report.
type Monitor struct {
	notifyMu sync.Mutex // serializes listener delivery

	mu        sync.Mutex
	online    bool
	closed    bool
	listeners map[uint64]func(Transition)
	nextID    uint64
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithNow overrides the clock used to stamp transitions.
func WithNow(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor in the given initial state.
// Construct one per process and pass it to every component that needs it.
func New(initial bool, opts ...Option) *Monitor {
	m := &Monitor{
		online:    initial,
		listeners: make(map[uint64]func(Transition)),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online returns the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for future transitions. The returned function
// removes the subscription and is safe to call more than once.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Report feeds a runtime reachability signal into the monitor. It returns
// true only when the state actually changed; repeated signals of the same
// state are dropped.
func (m *Monitor) Report(online bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.closed || m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	tr := Transition{Online: online, At: m.now()}
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Transition), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "online", online, "listeners", len(fns))
	for _, fn := range fns {
		fn(tr)
	}
	return true
}

// Watch probes p every interval and reports the result until ctx is done.
// The first probe runs immediately. Returns ctx.Err().
func (m *Monitor) Watch(ctx context.Context, p Prober, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := p.Probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logger.Debug("probe failed", "error", err)
		}
		m.Report(err == nil)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drops all listeners. Later Reports are ignored.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	clear(m.listeners)
}
