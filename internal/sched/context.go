package sched

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Context is a shared scheduling context. Tasks prepared on the same
// Context share its worker slots and poll throttle.
type Context struct {
	log   *slog.Logger
	name  string
	wait  time.Duration
	slots *semaphore.Weighted

	refs        int // guarded by Registry.mu
	activations atomic.Int64
}

func newContext(name string, wait time.Duration, workers int64, log *slog.Logger) *Context {
	return &Context{
		log:   log.With("context", name),
		name:  name,
		wait:  wait,
		slots: semaphore.NewWeighted(workers),
	}
}

// Name returns the name the context was acquired under.
func (c *Context) Name() string {
	return c.name
}

// Wait returns the minimum spacing between activations of a task.
func (c *Context) Wait() time.Duration {
	return c.wait
}

// Activations returns the number of completed activations across all tasks.
func (c *Context) Activations() int64 {
	return c.activations.Load()
}

// newLimiter returns the pacing limiter for one task on this context.
func (c *Context) newLimiter() *rate.Limiter {
	if c.wait <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(c.wait), 1)
}

// enter claims a worker slot for the processing phase of an activation.
func (c *Context) enter(ctx context.Context) error {
	return c.slots.Acquire(ctx, 1)
}

func (c *Context) leave() {
	c.slots.Release(1)
	c.activations.Add(1)
}
