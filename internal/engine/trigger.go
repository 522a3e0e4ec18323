package engine

import (
	"slices"
	"sync"
)

// Reason records why a drain was requested.
type Reason string

const (
	ReasonOnline    Reason = "online"
	ReasonRequested Reason = "requested"
	ReasonRetry     Reason = "retry"
	ReasonStartup   Reason = "startup"
)

// trigger coalesces drain requests for the Run loop.
//
// Any number of fire calls between two waits collapse into one wakeup; the
// reasons are kept for logging. Uses a buffered signal channel of size 1 so
// fire never blocks.
type trigger struct {
	mu      sync.Mutex
	reasons []Reason
	signal  chan struct{}
}

func newTrigger() *trigger {
	return &trigger{signal: make(chan struct{}, 1)}
}

// fire requests a drain. Safe from any goroutine, including connectivity
// listeners.
func (t *trigger) fire(r Reason) {
	t.mu.Lock()
	if !slices.Contains(t.reasons, r) {
		t.reasons = append(t.reasons, r)
	}
	t.mu.Unlock()

	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// wait returns the channel that signals pending requests.
func (t *trigger) wait() <-chan struct{} {
	return t.signal
}

// take returns and clears the pending reasons.
func (t *trigger) take() []Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.reasons
	t.reasons = nil
	return out
}
