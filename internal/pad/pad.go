// Package pad connects an element's output to its downstream peer and
// routes upstream events and queries back to the element.
package pad

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zsiec/tsappsrc/internal/media"
)

// Peer is the downstream side a source pad pushes into.
type Peer interface {
	// Chain handles one buffer. A nil error means the buffer was accepted;
	// media.ErrEOS and media.ErrFlushing are expected terminal results.
	Chain(ctx context.Context, buf *media.Buffer) error
	// Event handles a downstream control event and reports whether it was
	// accepted.
	Event(ctx context.Context, ev media.Event) bool
}

// Handler answers events and queries travelling upstream into an element.
type Handler interface {
	SrcEvent(p *Src, ev media.Event) bool
	SrcQuery(p *Src, q Query) bool
}

// Src is an element's source pad. Pushes happen on the streaming task;
// linking and upstream events may come from any goroutine.
type Src struct {
	log  *slog.Logger
	name string

	mu      sync.RWMutex
	peer    Peer
	handler Handler
}

// NewSrc creates an unlinked source pad. If log is nil, slog.Default() is used.
func NewSrc(name string, log *slog.Logger) *Src {
	if log == nil {
		log = slog.Default()
	}
	return &Src{
		log:  log.With("pad", name),
		name: name,
	}
}

// Name returns the pad name.
func (p *Src) Name() string {
	return p.name
}

// Link connects the pad to its downstream peer.
func (p *Src) Link(peer Peer) {
	p.mu.Lock()
	p.peer = peer
	p.mu.Unlock()
	p.log.Debug("linked")
}

// Unlink disconnects the downstream peer.
func (p *Src) Unlink() {
	p.mu.Lock()
	p.peer = nil
	p.mu.Unlock()
	p.log.Debug("unlinked")
}

// Peer returns the linked downstream peer, or nil.
func (p *Src) Peer() Peer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peer
}

// SetHandler installs the element callbacks for upstream events and
// queries. A nil handler refuses everything.
func (p *Src) SetHandler(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Push sends a buffer downstream. It returns media.ErrNotLinked without a
// peer and media.ErrFlushing once ctx is done.
func (p *Src) Push(ctx context.Context, buf *media.Buffer) error {
	if ctx.Err() != nil {
		return media.ErrFlushing
	}
	peer := p.Peer()
	if peer == nil {
		return media.ErrNotLinked
	}
	return peer.Chain(ctx, buf)
}

// PushEvent sends a control event downstream and reports whether the peer
// accepted it.
func (p *Src) PushEvent(ctx context.Context, ev media.Event) bool {
	if ctx.Err() != nil {
		return false
	}
	peer := p.Peer()
	if peer == nil {
		p.log.Debug("dropping event on unlinked pad", "event", ev.Type())
		return false
	}
	return peer.Event(ctx, ev)
}

// SendEvent delivers an event travelling upstream (from the peer towards
// the element).
func (p *Src) SendEvent(ev media.Event) bool {
	h := p.currentHandler()
	if h == nil {
		return false
	}
	ok := h.SrcEvent(p, ev)
	if ok {
		p.log.Log(context.Background(), slog.LevelDebug-4, "handled event", "event", ev.Type())
	} else {
		p.log.Log(context.Background(), slog.LevelDebug-4, "didn't handle event", "event", ev.Type())
	}
	return ok
}

// Query asks the element to answer q in place.
func (p *Src) Query(q Query) bool {
	h := p.currentHandler()
	if h == nil || !h.SrcQuery(p, q) {
		p.log.Log(context.Background(), slog.LevelDebug-4, "didn't handle query", "query", QueryName(q))
		return false
	}
	return true
}

func (p *Src) currentHandler() Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handler
}
