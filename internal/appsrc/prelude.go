package appsrc

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/pad"
)

// prelude guarantees that every session starts with stream-start, the
// configured caps (if any) and a segment, each pushed once, before any
// queued item. The guarded state is only held to read or commit flags,
// never while pushing downstream.
type prelude struct {
	log *slog.Logger

	mu          sync.Mutex
	needStart   bool
	needSegment bool
	caps        *media.Caps
	negotiated  *media.Caps
}

func newPrelude(log *slog.Logger) *prelude {
	if log == nil {
		log = slog.Default()
	}
	return &prelude{
		log:         log,
		needStart:   true,
		needSegment: true,
	}
}

// prepare stores the caps to announce. Nothing is pushed yet.
func (p *prelude) prepare(caps *media.Caps) {
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

// reset starts a new session: the next run pushes the full prelude again.
func (p *prelude) reset() {
	p.mu.Lock()
	p.needStart = true
	p.needSegment = true
	p.negotiated = nil
	p.mu.Unlock()
}

// armSegment forces a fresh segment before the next item, as required
// after a flush.
func (p *prelude) armSegment() {
	p.mu.Lock()
	p.needSegment = true
	p.mu.Unlock()
}

// negotiatedCaps returns the caps announced in the current session, or nil.
func (p *prelude) negotiatedCaps() *media.Caps {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.negotiated
}

// run pushes whatever part of the prelude is still pending. If ctx is
// cancelled midway nothing is committed, so the next run starts over.
func (p *prelude) run(ctx context.Context, src *pad.Src) error {
	p.mu.Lock()
	needStart, needSegment, caps := p.needStart, p.needSegment, p.caps
	p.mu.Unlock()

	if needStart {
		p.log.Debug("pushing initial events")

		src.PushEvent(ctx, media.StreamStart{
			StreamID: newStreamID(),
			GroupID:  media.NextGroupID(),
		})
		if caps != nil {
			src.PushEvent(ctx, media.CapsEvent{Caps: caps})
		}
		if ctx.Err() != nil {
			return media.ErrFlushing
		}

		p.mu.Lock()
		p.needStart = false
		if caps != nil {
			p.negotiated = caps
		}
		p.mu.Unlock()
	}

	if needSegment {
		src.PushEvent(ctx, media.SegmentEvent{Segment: media.NewTimeSegment()})
		if ctx.Err() != nil {
			return media.ErrFlushing
		}

		p.mu.Lock()
		p.needSegment = false
		p.mu.Unlock()
	}

	return nil
}

func newStreamID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
