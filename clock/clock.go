// Package clock provides a small time source abstraction so that components
// with time-window semantics (rate limiting, lockout TTLs, event correlation)
// can be tested deterministically without real sleeps.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by all stateful components.
type Clock interface {
	// Now returns the current time
	Now() time.Time
}

// systemClock wraps the real system clock
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// System returns a Clock backed by the system clock.
func System() Clock {
	return systemClock{}
}

// Fake is a controllable time source for deterministic testing.
// Safe for concurrent use so concurrency tests can advance time
// while other goroutines read it.
type Fake struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFake creates a fake clock starting at the given time
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the current fake time
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// Advance moves the fake time forward by the given duration
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set sets the fake time to a specific value
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
