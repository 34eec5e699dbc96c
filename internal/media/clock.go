package media

import (
	"sync"
	"time"
)

// Clock provides the pipeline time used to timestamp buffers on arrival.
type Clock interface {
	// Time returns the current clock time.
	Time() time.Duration
}

// SystemClock is a monotonic Clock counting from its creation.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a SystemClock whose zero is now.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Time() time.Duration {
	return time.Since(c.epoch)
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManualClock returns a ManualClock reading start.
func NewManualClock(start time.Duration) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Time() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Duration) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
