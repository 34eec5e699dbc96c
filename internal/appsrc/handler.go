package appsrc

import (
	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/pad"
)

// srcHandler answers events and queries arriving on the element's source
// pad from downstream.
type srcHandler struct {
	e *Element
}

func (h srcHandler) SrcEvent(_ *pad.Src, ev media.Event) bool {
	switch ev.Type() {
	case media.EventFlushStart:
		h.e.FlushStart()
		return true
	case media.EventFlushStop:
		h.e.FlushStop()
		return true
	case media.EventReconfigure, media.EventLatency:
		return true
	default:
		return false
	}
}

func (h srcHandler) SrcQuery(_ *pad.Src, q pad.Query) bool {
	switch q := q.(type) {
	case *pad.LatencyQuery:
		q.Live = true
		q.Min = 0
		q.Max = media.ClockTimeNone
		return true

	case *pad.SchedulingQuery:
		q.Flags = pad.SchedulingSequential
		q.MinBuffers = 1
		q.MaxBuffers = -1
		q.Align = 0
		if !q.HasMode(pad.ModePush) {
			q.Modes = append(q.Modes, pad.ModePush)
		}
		return true

	case *pad.CapsQuery:
		q.Result = h.e.capsFor(q.Filter)
		return true

	default:
		return false
	}
}

// capsFor answers a caps query: the negotiated caps restricted by filter,
// or the filter itself (ANY without one) before anything was negotiated.
func (e *Element) capsFor(filter *media.Caps) *media.Caps {
	if caps := e.prelude.negotiatedCaps(); caps != nil {
		if filter != nil {
			return filter.Intersect(caps, media.IntersectFirst)
		}
		return caps.Copy()
	}
	if filter != nil {
		return filter.Copy()
	}
	return media.AnyCaps()
}
