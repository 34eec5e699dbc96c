package appsrc

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/sched"
	"github.com/zsiec/tsappsrc/internal/stream"
)

// startTask schedules a fresh streaming loop over the current receiver.
// Callers hold e.mu.
func (e *Element) startTask() error {
	rx := e.currentReceiver()
	if rx == nil {
		return ErrNotPrepared
	}
	return e.task.Start(sched.Work[stream.Item]{
		Next: func(ctx context.Context) (stream.Item, error) {
			item, err := rx.Receive(ctx)
			if errors.Is(err, stream.ErrClosed) {
				e.log.Debug("channel aborted")
			}
			return item, err
		},
		Handle: e.handleItem,
	})
}

// handleItem runs one activation of the streaming task and maps the
// downstream result onto the task's flow.
func (e *Element) handleItem(ctx context.Context, item stream.Item) sched.Flow {
	err := e.pushItem(ctx, item)
	switch {
	case err == nil:
		e.log.Log(ctx, slog.LevelDebug-4, "successfully pushed item")
		if _, ok := item.Event.(media.EOS); ok {
			e.log.Debug("forwarded eos, stopping task")
			e.metrics.Stopped(e.name, "eos")
			return sched.Halt
		}
		return sched.Continue

	case errors.Is(err, media.ErrEOS):
		e.log.Debug("eos")
		e.src.PushEvent(ctx, media.EOS{})
		e.metrics.Stopped(e.name, "eos")
		return sched.Halt

	case errors.Is(err, media.ErrFlushing):
		e.log.Debug("flushing")
		e.metrics.Stopped(e.name, "flushing")
		return sched.Halt

	default:
		e.log.Error("got error", "error", err)
		e.metrics.Stopped(e.name, media.FlowReason(err))
		e.postError(&StreamError{Element: e.name, Reason: err})
		return sched.Halt
	}
}

// pushItem pushes the pending prelude, then the item itself.
func (e *Element) pushItem(ctx context.Context, item stream.Item) error {
	e.log.Log(ctx, slog.LevelDebug-4, "handling item", "item", item)

	if err := e.prelude.run(ctx, e.src); err != nil {
		return err
	}

	if item.IsBuffer() {
		e.log.Log(ctx, slog.LevelDebug-4, "forwarding buffer", "buffer", item.Buffer)
		if err := e.src.Push(ctx, item.Buffer); err != nil {
			return err
		}
		e.metrics.Forwarded(e.name, item.Kind())
		return nil
	}

	e.log.Log(ctx, slog.LevelDebug-4, "forwarding event", "event", item.Event.Type())
	e.src.PushEvent(ctx, item.Event)
	e.metrics.Forwarded(e.name, item.Kind())
	return nil
}
