package appsrc

import (
	"errors"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/metrics"
	"github.com/zsiec/tsappsrc/internal/stream"
)

// PushBuffer queues buf for the streaming task. It never blocks: it returns
// false, dropping buf, when the element is not accepting data, when
// timestamping is enabled but no clock is set, or when the queue is full.
// With timestamping, a copy of buf is queued with DTS set to the running
// time and PTS cleared.
func (e *Element) PushBuffer(buf *media.Buffer) bool {
	if buf == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.acceptsItems() {
		e.log.Debug("rejecting buffer due to pad state", "state", e.state)
		e.metrics.Rejected(e.name, metrics.ReasonNotStarted)
		return false
	}

	if e.Settings().DoTimestamp {
		clock, base := e.Clock()
		if clock == nil {
			e.log.Error("don't have a clock yet")
			e.metrics.Rejected(e.name, metrics.ReasonNoClock)
			return false
		}
		stamped := buf.Clone()
		stamped.DTS = clock.Time() - base
		stamped.PTS = media.ClockTimeNone
		buf = stamped
	}

	return e.trySend(stream.BufferItem(buf))
}

// EndOfStream queues an EOS event behind any pending buffers. Once the
// streaming task forwards it, the task stops until the next flush or
// restart. It returns false if the element is not accepting data or the
// queue is full.
func (e *Element) EndOfStream() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.acceptsItems() {
		e.log.Debug("rejecting eos due to pad state", "state", e.state)
		e.metrics.Rejected(e.name, metrics.ReasonNotStarted)
		return false
	}
	return e.trySend(stream.EventItem(media.EOS{}))
}

// trySend enqueues item without blocking. Callers hold e.mu.
func (e *Element) trySend(item stream.Item) bool {
	tx := e.currentSender()
	if tx == nil {
		e.log.Error("no channel to queue item", "item", item)
		e.metrics.Rejected(e.name, metrics.ReasonNoChannel)
		return false
	}

	if err := tx.TrySend(item); err != nil {
		e.log.Error("failed to queue item", "item", item, "error", err)
		reason := metrics.ReasonFull
		if errors.Is(err, stream.ErrClosed) {
			reason = metrics.ReasonClosed
		}
		e.metrics.Rejected(e.name, reason)
		return false
	}

	e.metrics.Submitted(e.name, item.Kind())
	return true
}
