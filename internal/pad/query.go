package pad

import (
	"time"

	"github.com/zsiec/tsappsrc/internal/media"
)

// Query is a question a peer asks an element through its pad. Handlers
// fill in the answer in place.
type Query interface {
	queryName() string
}

// QueryName returns a short label for q.
func QueryName(q Query) string {
	return q.queryName()
}

// LatencyQuery asks for the latency the element introduces.
type LatencyQuery struct {
	Live bool
	Min  time.Duration
	Max  time.Duration // media.ClockTimeNone when unbounded
}

func (*LatencyQuery) queryName() string { return "latency" }

// SchedulingFlags describe how an element can be scheduled.
type SchedulingFlags uint

// Scheduling flags.
const (
	SchedulingSeekable SchedulingFlags = 1 << iota
	SchedulingSequential
	SchedulingBandwidthLimited
)

// Mode is a pad activation mode.
type Mode int

// Pad activation modes.
const (
	ModeNone Mode = iota
	ModePush
	ModePull
)

// SchedulingQuery asks how the element drives data flow.
type SchedulingQuery struct {
	Flags      SchedulingFlags
	MinBuffers int
	MaxBuffers int // -1 when unbounded
	Align      int
	Modes      []Mode
}

func (*SchedulingQuery) queryName() string { return "scheduling" }

// HasMode reports whether m is among the announced modes.
func (q *SchedulingQuery) HasMode(m Mode) bool {
	for _, mode := range q.Modes {
		if mode == m {
			return true
		}
	}
	return false
}

// CapsQuery asks which formats the element can produce, optionally
// restricted by Filter. The answer is stored in Result.
type CapsQuery struct {
	Filter *media.Caps
	Result *media.Caps
}

func (*CapsQuery) queryName() string { return "caps" }

// PositionQuery asks for the current stream position. Application sources
// do not know it, so it is normally left unanswered.
type PositionQuery struct {
	Position time.Duration
}

func (*PositionQuery) queryName() string { return "position" }
