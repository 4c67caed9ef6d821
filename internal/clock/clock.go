package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for detector and sampler tests.
// Params: mutable current time guarded by mutex.
// Returns: deterministic clock for cooldown and duration assertions.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock starting at the given instant.
// Params: initial timestamp.
// Returns: initialized manual clock.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual timestamp.
// Params: none.
// Returns: stored UTC timestamp.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the manual clock forward.
// Params: duration step.
// Returns: new current timestamp.
func (m *Manual) Advance(step time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(step)
	return m.now
}

// Set replaces the manual timestamp.
// Params: absolute instant.
// Returns: none.
func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at.UTC()
}
