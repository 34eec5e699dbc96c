// Package media defines the opaque data types that flow through the
// application source: payload buffers, control events, formats and the
// clock used to timestamp buffers on arrival.
package media

import (
	"fmt"
	"time"
)

// ClockTimeNone marks an unset timestamp or duration.
const ClockTimeNone time.Duration = -1

// DefaultMaxBuffers is the default bound on queued items between producers
// and the streaming task. Sized to absorb producer jitter without letting a
// stalled downstream hold an unbounded backlog.
const DefaultMaxBuffers = 10

// Buffer is a single payload unit handed in by a producer. The data is
// opaque to the application source; only the timing fields are touched,
// and only when timestamp-on-arrival is enabled.
type Buffer struct {
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
	Offset   uint64
	Data     []byte
}

// NewBuffer wraps data in a Buffer with all timing fields unset.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{
		PTS:      ClockTimeNone,
		DTS:      ClockTimeNone,
		Duration: ClockTimeNone,
		Data:     data,
	}
}

// Clone returns a shallow copy of the buffer. The payload bytes are shared.
func (b *Buffer) Clone() *Buffer {
	c := *b
	return &c
}

// Size returns the payload length in bytes.
func (b *Buffer) Size() int {
	return len(b.Data)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{pts: %s, dts: %s, size: %d}", FormatClockTime(b.PTS), FormatClockTime(b.DTS), len(b.Data))
}

// FormatClockTime renders a timestamp, printing "none" for ClockTimeNone.
func FormatClockTime(t time.Duration) string {
	if t == ClockTimeNone {
		return "none"
	}
	return t.String()
}
