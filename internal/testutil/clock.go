package testutil

import "sync"

// FixedClock is a settable wall clock for tests, in unix seconds.
//
// It satisfies engine.Clock. Time only moves when the test says so, so
// timestamps written by actions (last_modified, begin_time, created) are
// predictable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now int64
}

// NewFixedClock creates a clock stopped at now.
func NewFixedClock(now int64) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the current time without advancing it.
func (c *FixedClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by seconds and returns the new time.
func (c *FixedClock) Advance(seconds int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
	return c.now
}

// Set moves the clock to an absolute time.
func (c *FixedClock) Set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
