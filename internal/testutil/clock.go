package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed start time used by StepClock.
var Epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// StepClock is a wall clock that advances by a fixed step on every call.
//
// It stands in for time.Now wherever timestamps end up in golden files.
type StepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepClock starts at Epoch and advances by step per call.
func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{now: Epoch, step: step}
}

// Now returns the current time and then advances the clock.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}
