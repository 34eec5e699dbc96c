package appsrc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/sched"
)

// sink is a downstream peer that records everything it receives as short
// labels: "stream-start", "caps", "segment", "eos", "buffer:<offset>".
type sink struct {
	mu       sync.Mutex
	labels   []string
	events   []media.Event
	buffers  []*media.Buffer
	chainErr error

	// gate, when set, holds every Chain call until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func newSink() *sink {
	return &sink{entered: make(chan struct{}, 16)}
}

func (s *sink) Chain(ctx context.Context, buf *media.Buffer) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return media.ErrFlushing
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainErr != nil {
		return s.chainErr
	}
	s.labels = append(s.labels, fmt.Sprintf("buffer:%d", buf.Offset))
	s.buffers = append(s.buffers, buf)
	return nil
}

func (s *sink) Event(_ context.Context, ev media.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, ev.Type().String())
	s.events = append(s.events, ev)
	return true
}

func (s *sink) setGate(ch chan struct{}) {
	s.mu.Lock()
	s.gate = ch
	s.mu.Unlock()
}

func (s *sink) setChainErr(err error) {
	s.mu.Lock()
	s.chainErr = err
	s.mu.Unlock()
}

func (s *sink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.labels)
}

func (s *sink) reset() {
	s.mu.Lock()
	s.labels = nil
	s.events = nil
	s.buffers = nil
	s.mu.Unlock()
}

// waitLabels waits until the sink has recorded at least n labels.
func (s *sink) waitLabels(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := s.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink got %d labels %v, want %d", len(got), got, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func buffer(offset uint64) *media.Buffer {
	b := media.NewBuffer([]byte{byte(offset)})
	b.Offset = offset
	return b
}

func waitTaskDone(t *testing.T, e *Element) {
	t.Helper()
	done := e.task.Done()
	if done == nil {
		t.Fatal("task never started")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("streaming task did not stop")
	}
}

func assertLabels(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Fatalf("labels: got %v, want %v", got, want)
	}
}

// newUnprepared returns an element linked to a fresh sink, on a private
// registry. mutate, when non-nil, adjusts the settings.
func newUnprepared(t *testing.T, opts Options, mutate func(*Settings)) (*Element, *sink, *sched.Registry) {
	t.Helper()

	s := DefaultSettings()
	s.Context = t.Name()
	if mutate != nil {
		mutate(&s)
	}

	reg := sched.NewRegistry(nil, 2)
	if opts.Name == "" {
		opts.Name = "test"
	}
	opts.Registry = reg
	opts.Settings = &s
	e := New(opts)
	peer := newSink()
	e.Src().Link(peer)

	t.Cleanup(func() {
		e.Stop()
		e.Unprepare()
	})
	return e, peer, reg
}

// newTestElement is newUnprepared followed by a successful Prepare.
func newTestElement(t *testing.T, mutate func(*Settings)) (*Element, *sink, *sched.Registry) {
	t.Helper()

	e, peer, reg := newUnprepared(t, Options{}, mutate)
	if err := e.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return e, peer, reg
}
