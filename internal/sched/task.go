package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Sentinel errors for task lifecycle misuse.
var (
	ErrTaskPrepared    = errors.New("sched: task already prepared")
	ErrTaskNotPrepared = errors.New("sched: task not prepared")
)

// Flow tells the task whether to schedule another activation.
type Flow int

const (
	// Continue re-arms the task for another activation.
	Continue Flow = iota
	// Halt ends the task loop. The task must be started again to resume.
	Halt
)

// Work is the unit of work a Task activates repeatedly. Next waits for the
// next item and is interrupted by both Pause and Cancel; an error from Next
// ends the loop. Handle processes the item on a worker slot and is only
// interrupted by Cancel.
type Work[T any] struct {
	Next   func(ctx context.Context) (T, error)
	Handle func(ctx context.Context, item T) Flow
}

// TaskState is the lifecycle state of a Task.
type TaskState int

// Task lifecycle states.
const (
	TaskUnprepared TaskState = iota
	TaskPrepared
	TaskStarted
	TaskPaused
	TaskStopped
	TaskFinished
)

var taskStateNames = [...]string{
	TaskUnprepared: "unprepared",
	TaskPrepared:   "prepared",
	TaskStarted:    "started",
	TaskPaused:     "paused",
	TaskStopped:    "stopped",
	TaskFinished:   "finished",
}

func (s TaskState) String() string {
	if s >= 0 && int(s) < len(taskStateNames) {
		return taskStateNames[s]
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// run is one scheduled loop of a task.
type run struct {
	cancel context.CancelFunc
	pause  context.CancelFunc
	done   chan struct{}
}

// Task runs a Work unit on a Context, one activation at a time. Its control
// methods may be called from any goroutine.
type Task[T any] struct {
	log *slog.Logger

	mu    sync.Mutex
	state TaskState
	sctx  *Context
	cur   *run
}

// NewTask creates an unprepared task. If log is nil, slog.Default() is used.
func NewTask[T any](log *slog.Logger) *Task[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Task[T]{log: log}
}

// Prepare binds the task to a scheduling context.
func (t *Task[T]) Prepare(c *Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskUnprepared {
		return ErrTaskPrepared
	}
	t.sctx = c
	t.state = TaskPrepared
	return nil
}

// Unprepare cancels any running loop and unbinds the task from its context.
func (t *Task[T]) Unprepare() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TaskUnprepared {
		return ErrTaskNotPrepared
	}
	t.stopLocked()
	t.sctx = nil
	t.state = TaskUnprepared
	return nil
}

// Start schedules w. Starting a running task is a no-op; starting a paused
// task waits for its last activation to return and schedules w afresh.
func (t *Task[T]) Start(w Work[T]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case TaskUnprepared:
		return ErrTaskNotPrepared
	case TaskStarted:
		if !t.finishedLocked() {
			return nil
		}
	case TaskPaused:
		// A paused loop exits on its own once the in-flight item is handled.
		<-t.cur.done
	}
	t.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	wait, pause := context.WithCancel(ctx)
	r := &run{cancel: cancel, pause: pause, done: make(chan struct{})}
	t.cur = r
	t.state = TaskStarted

	go t.loop(t.sctx, ctx, wait, w, r.done)
	return nil
}

// Pause stops scheduling further activations without interrupting an
// activation that is already processing an item. It does not wait.
func (t *Task[T]) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskStarted {
		return
	}
	t.cur.pause()
	t.state = TaskPaused
}

// Cancel interrupts the current activation wherever it is and waits for it
// to return. The task stays prepared and can be started again.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TaskUnprepared {
		return
	}
	t.stopLocked()
	t.state = TaskStopped
}

// State returns the current lifecycle state. A started task whose work
// halted reports TaskFinished.
func (t *Task[T]) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TaskStarted && t.finishedLocked() {
		return TaskFinished
	}
	return t.state
}

// Done returns a channel closed when the current loop exits, or nil if no
// loop has been started.
func (t *Task[T]) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cur == nil {
		return nil
	}
	return t.cur.done
}

func (t *Task[T]) finishedLocked() bool {
	if t.cur == nil {
		return true
	}
	select {
	case <-t.cur.done:
		return true
	default:
		return false
	}
}

// stopLocked cancels the current loop and waits for it to exit. The loop
// never takes t.mu, so waiting here cannot deadlock.
func (t *Task[T]) stopLocked() {
	if t.cur == nil {
		return
	}
	t.cur.cancel()
	<-t.cur.done
	t.cur = nil
}

func (t *Task[T]) loop(sctx *Context, ctx, wait context.Context, w Work[T], done chan struct{}) {
	defer close(done)

	limiter := sctx.newLimiter()
	for {
		if err := limiter.Wait(wait); err != nil {
			return
		}

		item, err := w.Next(wait)
		if err != nil {
			if wait.Err() == nil {
				t.log.Debug("task halted by next", "error", err)
			}
			return
		}

		if err := sctx.enter(ctx); err != nil {
			return
		}
		flow := w.Handle(ctx, item)
		sctx.leave()

		if flow == Halt {
			t.log.Debug("task halted by handler")
			return
		}
	}
}
