package distribution

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/tsappsrc/internal/media"
)

// ViewerStats captures per-viewer delivery metrics.
type ViewerStats struct {
	ID             string `json:"id"`
	BuffersSent    int64  `json:"buffersSent"`
	BuffersDropped int64  `json:"buffersDropped"`
	EventsSent     int64  `json:"eventsSent"`
	EventsDropped  int64  `json:"eventsDropped"`
	BytesSent      int64  `json:"bytesSent"`
	LastPTSMs      int64  `json:"lastPtsMs,omitempty"`
}

// RelayStats summarizes what a Relay has delivered.
type RelayStats struct {
	Buffers int64  `json:"buffers"`
	Bytes   int64  `json:"bytes"`
	Viewers int    `json:"viewers"`
	EOS     bool   `json:"eos"`
	Caps    string `json:"caps,omitempty"`
}

// Delivery is one item handed to a ChannelViewer: exactly one of Buffer
// and Event is set.
type Delivery struct {
	Buffer *media.Buffer
	Event  media.Event
}

// ChannelViewer delivers into a bounded Go channel. When the consumer
// falls behind, new items are dropped and counted rather than blocking
// the relay.
type ChannelViewer struct {
	id string
	ch chan Delivery

	buffersSent    atomic.Int64
	buffersDropped atomic.Int64
	eventsSent     atomic.Int64
	eventsDropped  atomic.Int64
	bytesSent      atomic.Int64
	lastPTS        atomic.Int64
}

// NewChannelViewer creates a viewer buffering up to size items. An empty
// id is replaced by a random one.
func NewChannelViewer(id string, size int) *ChannelViewer {
	if id == "" {
		id = uuid.NewString()
	}
	if size < 1 {
		size = 1
	}
	v := &ChannelViewer{id: id, ch: make(chan Delivery, size)}
	v.lastPTS.Store(int64(media.ClockTimeNone))
	return v
}

// ID returns the viewer ID.
func (v *ChannelViewer) ID() string { return v.id }

// C returns the delivery channel.
func (v *ChannelViewer) C() <-chan Delivery { return v.ch }

// SendBuffer queues buf or drops it if the channel is full.
func (v *ChannelViewer) SendBuffer(buf *media.Buffer) {
	select {
	case v.ch <- Delivery{Buffer: buf}:
		v.buffersSent.Add(1)
		v.bytesSent.Add(int64(buf.Size()))
		if buf.PTS != media.ClockTimeNone {
			v.lastPTS.Store(int64(buf.PTS))
		}
	default:
		v.buffersDropped.Add(1)
	}
}

// SendEvent queues ev or drops it if the channel is full.
func (v *ChannelViewer) SendEvent(ev media.Event) {
	select {
	case v.ch <- Delivery{Event: ev}:
		v.eventsSent.Add(1)
	default:
		v.eventsDropped.Add(1)
	}
}

// Stats returns delivery metrics for this viewer.
func (v *ChannelViewer) Stats() ViewerStats {
	s := ViewerStats{
		ID:             v.id,
		BuffersSent:    v.buffersSent.Load(),
		BuffersDropped: v.buffersDropped.Load(),
		EventsSent:     v.eventsSent.Load(),
		EventsDropped:  v.eventsDropped.Load(),
		BytesSent:      v.bytesSent.Load(),
	}
	if pts := time.Duration(v.lastPTS.Load()); pts != media.ClockTimeNone {
		s.LastPTSMs = pts.Milliseconds()
	}
	return s
}
