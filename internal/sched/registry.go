// Package sched provides shared, named scheduling contexts and the tasks
// that run on them. Many tasks share one Context: activations are paced by
// the context's poll throttle and the processing phase of each activation
// runs on a bounded number of worker slots.
package sched

import (
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sort"
	"sync"
	"time"
)

// MaxWait is the largest accepted poll throttle.
const MaxWait = time.Second

// Sentinel errors for context acquisition.
var (
	ErrRegistryClosed = errors.New("sched: registry closed")
	ErrInvalidWait    = errors.New("sched: invalid context wait")
)

// ContextInfo is a point-in-time description of a registered Context.
type ContextInfo struct {
	Name        string        `json:"name"`
	Wait        time.Duration `json:"wait"`
	Refs        int           `json:"refs"`
	Activations int64         `json:"activations"`
}

// Registry hands out shared Contexts by name. A Context lives as long as at
// least one holder has acquired it and not yet released it.
type Registry struct {
	log      *slog.Logger
	workers  int64
	mu       sync.Mutex
	contexts map[string]*Context
	closed   bool
}

// NewRegistry creates a Registry whose contexts run at most workers
// concurrent activations. If workers <= 0, GOMAXPROCS is used. If log is
// nil, slog.Default() is used.
func NewRegistry(log *slog.Logger, workers int) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = goruntime.GOMAXPROCS(0)
	}
	return &Registry{
		log:      log.With("component", "sched-registry"),
		workers:  int64(workers),
		contexts: make(map[string]*Context),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide Registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(nil, 0)
	})
	return defaultRegistry
}

// Acquire returns the Context registered under name, creating it with the
// given poll throttle if needed. An existing context keeps the throttle it
// was created with.
func (r *Registry) Acquire(name string, wait time.Duration) (*Context, error) {
	if wait < 0 || wait > MaxWait {
		return nil, fmt.Errorf("%w: %v not in [0, %v]", ErrInvalidWait, wait, MaxWait)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if c, ok := r.contexts[name]; ok {
		if c.wait != wait {
			r.log.Warn("context already exists with a different wait, keeping it",
				"context", name, "wait", c.wait, "requested", wait)
		}
		c.refs++
		return c, nil
	}

	c := newContext(name, wait, r.workers, r.log)
	c.refs = 1
	r.contexts[name] = c
	r.log.Info("context created", "context", name, "wait", wait, "workers", r.workers)
	return c, nil
}

// Release drops one reference to c. The context is removed from the
// registry once the last reference is released.
func (r *Registry) Release(c *Context) {
	if c == nil {
		return
	}

	r.mu.Lock()
	cur, ok := r.contexts[c.name]
	if !ok || cur != c {
		r.mu.Unlock()
		return
	}
	c.refs--
	removed := c.refs <= 0
	if removed {
		delete(r.contexts, c.name)
	}
	r.mu.Unlock()

	if removed {
		r.log.Info("context removed", "context", c.name)
	}
}

// List returns all registered contexts sorted by name.
func (r *Registry) List() []ContextInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]ContextInfo, 0, len(r.contexts))
	for _, c := range r.contexts {
		infos = append(infos, ContextInfo{
			Name:        c.name,
			Wait:        c.wait,
			Refs:        c.refs,
			Activations: c.activations.Load(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close refuses further acquisitions. Contexts already handed out keep
// working until released.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
