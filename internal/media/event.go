package media

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of a control Event.
type EventType int

// Control event kinds understood by the application source and its peers.
const (
	EventStreamStart EventType = iota
	EventCaps
	EventSegment
	EventEOS
	EventFlushStart
	EventFlushStop
	EventReconfigure
	EventLatency
)

var eventTypeNames = [...]string{
	EventStreamStart: "stream-start",
	EventCaps:        "caps",
	EventSegment:     "segment",
	EventEOS:         "eos",
	EventFlushStart:  "flush-start",
	EventFlushStop:   "flush-stop",
	EventReconfigure: "reconfigure",
	EventLatency:     "latency",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Sticky reports whether events of this type describe stream state that a
// late-joining consumer needs before any payload.
func (t EventType) Sticky() bool {
	switch t {
	case EventStreamStart, EventCaps, EventSegment:
		return true
	}
	return false
}

// Event is a control item travelling alongside payload buffers.
type Event interface {
	Type() EventType
}

// StreamStart opens a new stream. StreamID is unique per session and
// GroupID ties together streams that belong to the same presentation.
type StreamStart struct {
	StreamID string
	GroupID  uint32
}

func (StreamStart) Type() EventType { return EventStreamStart }

// CapsEvent announces the format of the buffers that follow.
type CapsEvent struct {
	Caps *Caps
}

func (CapsEvent) Type() EventType { return EventCaps }

// SegmentEvent describes how buffer timestamps map to running time.
type SegmentEvent struct {
	Segment Segment
}

func (SegmentEvent) Type() EventType { return EventSegment }

// EOS signals that no more data follows in this session.
type EOS struct{}

func (EOS) Type() EventType { return EventEOS }

// FlushStart asks every element on the path to discard in-flight data and
// refuse new data until FlushStop.
type FlushStart struct{}

func (FlushStart) Type() EventType { return EventFlushStart }

// FlushStop ends a flush. ResetTime asks elements to reset running time.
type FlushStop struct {
	ResetTime bool
}

func (FlushStop) Type() EventType { return EventFlushStop }

// Reconfigure asks upstream to renegotiate its format.
type Reconfigure struct{}

func (Reconfigure) Type() EventType { return EventReconfigure }

// Latency informs upstream of the configured pipeline latency.
type Latency struct {
	Latency time.Duration
}

func (Latency) Type() EventType { return EventLatency }

// Format identifies the unit of segment positions.
type Format int

// Segment formats.
const (
	FormatUndefined Format = iota
	FormatTime
	FormatBytes
)

// Segment is a playback range in a given format.
type Segment struct {
	Format   Format
	Rate     float64
	Start    time.Duration
	Stop     time.Duration
	Time     time.Duration
	Position time.Duration
	Base     time.Duration
}

// NewTimeSegment returns the default open-ended TIME segment covering the
// full stream range at normal rate.
func NewTimeSegment() Segment {
	return Segment{
		Format: FormatTime,
		Rate:   1.0,
		Stop:   ClockTimeNone,
	}
}

var groupIDCounter atomic.Uint32

// NextGroupID returns a new process-wide group identifier. Zero is never
// returned, so it can be used as an "unset" value.
func NextGroupID() uint32 {
	for {
		id := groupIDCounter.Add(1)
		if id != 0 {
			return id
		}
	}
}
