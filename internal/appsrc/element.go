package appsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/metrics"
	"github.com/zsiec/tsappsrc/internal/pad"
	"github.com/zsiec/tsappsrc/internal/sched"
	"github.com/zsiec/tsappsrc/internal/stream"
)

// Options configures a new Element. Zero values select defaults.
type Options struct {
	// Name identifies the element in logs and metrics. Defaults to "appsrc".
	Name string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Registry provides scheduling contexts. Defaults to sched.Default().
	Registry *sched.Registry
	// Metrics is optional.
	Metrics *metrics.Collector
	// OnError receives fatal streaming errors. It is called on the
	// streaming task and must not call back into the element's lifecycle
	// methods synchronously.
	OnError func(error)
	// Settings defaults to DefaultSettings().
	Settings *Settings
}

// Element is a thread-sharing application source.
type Element struct {
	log      *slog.Logger
	name     string
	registry *sched.Registry
	metrics  *metrics.Collector
	onError  func(error)

	src     *pad.Src
	prelude *prelude
	task    *sched.Task[stream.Item]

	settingsMu sync.Mutex
	settings   Settings

	// mu guards state and is held for the duration of each transition and
	// of each producer call.
	mu    sync.Mutex
	state State

	chMu     sync.Mutex
	sender   *stream.Sender
	receiver *stream.Receiver
	sctx     *sched.Context

	clockMu  sync.RWMutex
	clock    media.Clock
	baseTime time.Duration

	errMu   sync.Mutex
	lastErr error

	// setMu serializes SetLevel; levelMu guards level.
	setMu   sync.Mutex
	levelMu sync.Mutex
	level   Level
}

// New creates an unprepared Element with an unlinked "src" pad.
func New(opts Options) *Element {
	name := opts.Name
	if name == "" {
		name = "appsrc"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "appsrc", "element", name)

	registry := opts.Registry
	if registry == nil {
		registry = sched.Default()
	}
	settings := DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}

	e := &Element{
		log:      log,
		name:     name,
		registry: registry,
		metrics:  opts.Metrics,
		onError:  opts.OnError,
		src:      pad.NewSrc("src", log),
		prelude:  newPrelude(log),
		task:     sched.NewTask[stream.Item](log),
		settings: settings,
		state:    StateRejectBuffers,
	}
	e.src.SetHandler(srcHandler{e})
	e.metrics.State(name, int(StateRejectBuffers))
	return e
}

// Name returns the element name.
func (e *Element) Name() string {
	return e.name
}

// Src returns the element's source pad.
func (e *Element) Src() *pad.Src {
	return e.src
}

// State returns the current streaming state.
func (e *Element) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// TaskState returns the lifecycle state of the streaming task.
func (e *Element) TaskState() sched.TaskState {
	return e.task.State()
}

// Prepared reports whether the element holds a channel and a context.
func (e *Element) Prepared() bool {
	e.chMu.Lock()
	defer e.chMu.Unlock()
	return e.sender != nil
}

// Queued returns the number of items waiting for the streaming task.
func (e *Element) Queued() int {
	if rx := e.currentReceiver(); rx != nil {
		return rx.Len()
	}
	return 0
}

// SetClock provides the pipeline clock and the base time used by
// timestamp-on-arrival. A nil clock disables timestamping: buffers are
// rejected while DoTimestamp is set.
func (e *Element) SetClock(c media.Clock, baseTime time.Duration) {
	e.clockMu.Lock()
	e.clock = c
	e.baseTime = baseTime
	e.clockMu.Unlock()
}

// Clock returns the pipeline clock and base time.
func (e *Element) Clock() (media.Clock, time.Duration) {
	e.clockMu.RLock()
	defer e.clockMu.RUnlock()
	return e.clock, e.baseTime
}

// LastError returns the most recent fatal streaming error, or nil.
func (e *Element) LastError() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

// Prepare acquires the scheduling context, opens the channel and arms the
// prelude with the configured caps. On failure the element stays
// unprepared.
func (e *Element) Prepare() error {
	s := e.Settings()
	e.log.Debug("preparing")

	e.chMu.Lock()
	defer e.chMu.Unlock()

	if e.sender != nil {
		return ErrAlreadyPrepared
	}
	if s.ContextWait < 0 || s.ContextWait > sched.MaxWait {
		return fmt.Errorf("%w: %v", ErrInvalidContextWait, s.ContextWait)
	}

	sctx, err := e.registry.Acquire(s.Context, s.ContextWait)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrContextUnavailable, s.Context, err)
	}

	if err := s.Validate(); err != nil {
		e.registry.Release(sctx)
		return err
	}

	tx, rx, err := stream.Open(s.MaxBuffers)
	if err != nil {
		e.registry.Release(sctx)
		return fmt.Errorf("%w: %w", ErrInvalidMaxBuffers, err)
	}

	if err := e.task.Prepare(sctx); err != nil {
		tx.Close()
		e.registry.Release(sctx)
		return fmt.Errorf("appsrc: preparing task: %w", err)
	}

	e.sender, e.receiver, e.sctx = tx, rx, sctx
	e.prelude.prepare(s.Caps)

	e.log.Debug("prepared", "context", sctx.Name(), "max_buffers", s.MaxBuffers)
	return nil
}

// Unprepare drops the channel and releases the scheduling context. It
// must follow Stop.
func (e *Element) Unprepare() {
	e.log.Debug("unpreparing")

	e.chMu.Lock()
	defer e.chMu.Unlock()

	if e.sender == nil {
		return
	}
	e.sender.Close()
	e.sender, e.receiver = nil, nil

	if err := e.task.Unprepare(); err != nil && !errors.Is(err, sched.ErrTaskNotPrepared) {
		e.log.Warn("unpreparing task", "error", err)
	}
	e.registry.Release(e.sctx)
	e.sctx = nil

	e.log.Debug("unprepared")
}

// Start schedules the streaming task. Starting a started element is a no-op.
func (e *Element) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, schedule := startTransition(e.state)
	if !schedule {
		e.log.Debug("already started")
		return nil
	}

	e.log.Debug("starting")
	if err := e.startTask(); err != nil {
		return err
	}
	e.setState(next)
	e.log.Debug("started")
	return nil
}

// Pause stops scheduling the streaming task. Queued items stay queued.
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Debug("pausing")
	e.task.Pause()
	e.setState(pauseTransition(e.state))
	e.log.Debug("paused")
}

// FlushStart cancels the streaming task immediately and rejects items
// until FlushStop.
func (e *Element) FlushStart() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Debug("starting flush")
	e.task.Cancel()
	e.setState(flushStartTransition(e.state))
	e.log.Debug("flush started")
}

// FlushStop discards queued items, requires a fresh segment and restarts
// the streaming task. It is a no-op on a started element.
func (e *Element) FlushStop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, schedule := flushStopTransition(e.state)
	if !schedule {
		e.log.Debug("already started")
		return
	}

	e.log.Debug("stopping flush")
	e.flush()
	if err := e.startTask(); err != nil {
		e.log.Error("restarting task after flush", "error", err)
	}
	e.setState(next)
	e.log.Debug("flush stopped")
}

// Stop cancels the streaming task, discards queued items and resets the
// prelude so the next session starts from scratch.
func (e *Element) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.log.Debug("stopping")
	e.flush()
	e.prelude.reset()
	e.setState(stopTransition(e.state))
	e.log.Debug("stopped")
}

// ChangeState applies a host state transition.
func (e *Element) ChangeState(t Transition) (StateChangeReturn, error) {
	e.log.Log(context.Background(), slog.LevelDebug-4, "changing state", "transition", t)

	switch t {
	case NullToReady:
		if err := e.Prepare(); err != nil {
			return StateChangeSuccess, err
		}
	case ReadyToPaused:
		e.setLevel(t)
		return StateChangeNoPreroll, nil
	case PausedToPlaying:
		if err := e.Start(); err != nil {
			return StateChangeSuccess, err
		}
	case PlayingToPaused:
		e.Pause()
		e.setLevel(t)
		return StateChangeNoPreroll, nil
	case PausedToReady:
		e.Stop()
	case ReadyToNull:
		e.Unprepare()
	default:
		return StateChangeSuccess, fmt.Errorf("%w: %v", ErrUnknownTransition, t)
	}
	e.setLevel(t)
	return StateChangeSuccess, nil
}

// Level returns the host level reached by the last successful transition.
func (e *Element) Level() Level {
	e.levelMu.Lock()
	defer e.levelMu.Unlock()
	return e.level
}

// SetLevel applies every intermediate transition between the current
// level and target. It stops at the first failing transition.
func (e *Element) SetLevel(target Level) error {
	e.setMu.Lock()
	defer e.setMu.Unlock()

	for _, t := range Transitions(e.Level(), target) {
		if _, err := e.ChangeState(t); err != nil {
			return fmt.Errorf("appsrc: %v: %w", t, err)
		}
	}
	return nil
}

func (e *Element) setLevel(t Transition) {
	e.levelMu.Lock()
	e.level = t.Target()
	e.levelMu.Unlock()
}

// flush cancels the task, purges the channel and re-arms the segment.
// Callers hold e.mu.
func (e *Element) flush() {
	e.log.Log(context.Background(), slog.LevelDebug-4, "flushing")

	e.task.Cancel()

	if rx := e.currentReceiver(); rx != nil {
		n, err := rx.Purge()
		if err != nil {
			e.log.Error("purging channel", "error", err)
		} else if n > 0 {
			e.log.Debug("dropped pending items", "count", n)
		}
		e.metrics.Purged(e.name, n)
	}

	e.prelude.armSegment()
	e.log.Log(context.Background(), slog.LevelDebug-4, "flushed")
}

func (e *Element) setState(s State) {
	e.state = s
	e.metrics.State(e.name, int(s))
}

func (e *Element) currentSender() *stream.Sender {
	e.chMu.Lock()
	defer e.chMu.Unlock()
	return e.sender
}

func (e *Element) currentReceiver() *stream.Receiver {
	e.chMu.Lock()
	defer e.chMu.Unlock()
	return e.receiver
}

func (e *Element) postError(err error) {
	e.errMu.Lock()
	e.lastErr = err
	e.errMu.Unlock()

	if e.onError != nil {
		e.onError(err)
	}
}
