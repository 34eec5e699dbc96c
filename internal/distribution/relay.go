// Package distribution fans the element's output out to any number of
// viewers. The Relay is linked as the element's downstream peer.
package distribution

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/pad"
)

// Viewer is the interface a viewer session must implement to receive
// buffers and events from a Relay. Send methods must not block.
type Viewer interface {
	ID() string
	SendBuffer(buf *media.Buffer)
	SendEvent(ev media.Event)
	Stats() ViewerStats
}

// stickyOrder is the order sticky events are replayed to late joiners.
var stickyOrder = [...]media.EventType{media.EventStreamStart, media.EventCaps, media.EventSegment}

// Relay is the fan-out hub for a single element. It caches the sticky
// events of the current stream (stream-start, caps, segment) so that a
// late-joining viewer can interpret buffers immediately, and it tracks EOS
// and flushing to report the right flow result back to the element.
type Relay struct {
	log *slog.Logger

	mu      sync.RWMutex
	viewers map[string]Viewer

	stateMu       sync.RWMutex
	sticky        map[media.EventType]media.Event
	accept        *media.Caps
	eos           bool
	flushing      bool
	notNegotiated bool

	buffers   atomic.Int64
	bytes     atomic.Int64
	lastPTS   atomic.Int64
	streamEnd chan struct{}
}

// NewRelay creates a Relay with no viewers that accepts any caps. If log
// is nil, slog.Default() is used.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	r := &Relay{
		log:       log.With("component", "relay"),
		viewers:   make(map[string]Viewer),
		sticky:    make(map[media.EventType]media.Event),
		streamEnd: make(chan struct{}),
	}
	r.lastPTS.Store(int64(media.ClockTimeNone))
	return r
}

// SetAcceptCaps restricts the formats the relay accepts. A caps event
// that does not intersect c is refused and the following buffers fail
// with media.ErrNotNegotiated. Nil accepts anything.
func (r *Relay) SetAcceptCaps(c *media.Caps) {
	r.stateMu.Lock()
	r.accept = c
	r.stateMu.Unlock()
}

// Chain implements pad.Peer. It delivers buf to every viewer without
// waiting for any of them.
func (r *Relay) Chain(_ context.Context, buf *media.Buffer) error {
	r.stateMu.RLock()
	flushing, eos, notNegotiated := r.flushing, r.eos, r.notNegotiated
	r.stateMu.RUnlock()

	switch {
	case flushing:
		return media.ErrFlushing
	case eos:
		return media.ErrEOS
	case notNegotiated:
		return media.ErrNotNegotiated
	}

	r.buffers.Add(1)
	r.bytes.Add(int64(buf.Size()))
	if buf.PTS != media.ClockTimeNone {
		r.lastPTS.Store(int64(buf.PTS))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.viewers {
		v.SendBuffer(buf)
	}
	return nil
}

// Event implements pad.Peer.
func (r *Relay) Event(_ context.Context, ev media.Event) bool {
	if !r.applyEvent(ev) {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.viewers {
		v.SendEvent(ev)
	}
	return true
}

// applyEvent updates the relay state for ev and reports whether it was
// accepted.
func (r *Relay) applyEvent(ev media.Event) bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	switch ev := ev.(type) {
	case media.StreamStart:
		r.log.Debug("stream started", "stream_id", ev.StreamID, "group_id", ev.GroupID)
		clear(r.sticky)
		r.eos = false
		r.notNegotiated = false
		r.streamEnd = make(chan struct{})

	case media.CapsEvent:
		if r.accept != nil && r.accept.Intersect(ev.Caps, media.IntersectFirst).IsEmpty() {
			r.log.Warn("refusing caps", "caps", ev.Caps, "accept", r.accept)
			r.notNegotiated = true
			return false
		}
		r.log.Debug("caps set", "caps", ev.Caps)
		r.notNegotiated = false

	case media.EOS:
		if !r.eos {
			r.eos = true
			close(r.streamEnd)
		}
		r.log.Info("end of stream", "buffers", r.buffers.Load(), "bytes", r.bytes.Load())

	case media.FlushStart:
		r.flushing = true

	case media.FlushStop:
		r.flushing = false
		if r.eos {
			r.eos = false
			r.streamEnd = make(chan struct{})
		}
		delete(r.sticky, media.EventSegment)
	}

	if ev.Type().Sticky() {
		r.sticky[ev.Type()] = ev
	}
	return true
}

// Flush performs a flush of the whole chain from the downstream side:
// flush-start travels upstream through src and to every viewer, then
// flush-stop does the same. Buffers arriving in between are refused with
// media.ErrFlushing.
func (r *Relay) Flush(ctx context.Context, src *pad.Src) bool {
	r.log.Debug("flushing")

	r.Event(ctx, media.FlushStart{})
	okStart := src.SendEvent(media.FlushStart{})
	okStop := src.SendEvent(media.FlushStop{ResetTime: true})
	r.Event(ctx, media.FlushStop{ResetTime: true})

	return okStart && okStop
}

// AddViewer replays the cached sticky events to the viewer, then
// registers it for live delivery.
func (r *Relay) AddViewer(v Viewer) {
	r.replaySticky(v)

	r.mu.Lock()
	r.viewers[v.ID()] = v
	r.mu.Unlock()

	r.log.Info("viewer added", "viewer", v.ID(), "viewers", r.ViewerCount())
}

func (r *Relay) replaySticky(v Viewer) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	for _, t := range stickyOrder {
		if ev, ok := r.sticky[t]; ok {
			v.SendEvent(ev)
		}
	}
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.viewers, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "viewer", id, "viewers", r.ViewerCount())
}

// ViewerCount returns the number of connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.viewers))
	for _, v := range r.viewers {
		stats = append(stats, v.Stats())
	}
	return stats
}

// Caps returns the caps of the current stream, or nil.
func (r *Relay) Caps() *media.Caps {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	if ev, ok := r.sticky[media.EventCaps].(media.CapsEvent); ok {
		return ev.Caps
	}
	return nil
}

// EOS reports whether the current stream has ended.
func (r *Relay) EOS() bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.eos
}

// StreamEnded returns a channel closed when the current stream reaches
// EOS.
func (r *Relay) StreamEnded() <-chan struct{} {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.streamEnd
}

// Query answers caps and position queries from the relay's side.
func (r *Relay) Query(q pad.Query) bool {
	switch q := q.(type) {
	case *pad.CapsQuery:
		r.stateMu.RLock()
		accept := r.accept
		r.stateMu.RUnlock()
		if accept == nil {
			accept = media.AnyCaps()
		}
		if q.Filter != nil {
			q.Result = q.Filter.Intersect(accept, media.IntersectZigZag)
		} else {
			q.Result = accept.Copy()
		}
		return true

	case *pad.PositionQuery:
		pts := time.Duration(r.lastPTS.Load())
		if pts == media.ClockTimeNone {
			return false
		}
		q.Position = pts
		return true

	default:
		return false
	}
}

// Snapshot returns aggregate delivery counters.
func (r *Relay) Snapshot() RelayStats {
	stats := RelayStats{
		Buffers: r.buffers.Load(),
		Bytes:   r.bytes.Load(),
		Viewers: r.ViewerCount(),
		EOS:     r.EOS(),
	}
	if c := r.Caps(); c != nil {
		stats.Caps = c.String()
	}
	return stats
}
