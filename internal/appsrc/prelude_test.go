package appsrc

import (
	"context"
	"errors"
	"testing"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/pad"
)

func newPreludeHarness() (*prelude, *pad.Src, *sink) {
	peer := newSink()
	src := pad.NewSrc("src", nil)
	src.Link(peer)
	return newPrelude(nil), src, peer
}

func TestPreludeRunsOnce(t *testing.T) {
	t.Parallel()

	p, src, peer := newPreludeHarness()
	caps := media.NewSimpleCaps("video/mp2t")
	p.prepare(caps)

	ctx := context.Background()
	if err := p.run(ctx, src); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.run(ctx, src); err != nil {
		t.Fatalf("second run: %v", err)
	}
	assertLabels(t, peer.snapshot(), []string{"stream-start", "caps", "segment"})

	if got := p.negotiatedCaps(); !got.Equal(caps) {
		t.Errorf("negotiated: got %v, want %v", got, caps)
	}

	start, ok := peer.events[0].(media.StreamStart)
	if !ok {
		t.Fatalf("first event: got %T, want StreamStart", peer.events[0])
	}
	if len(start.StreamID) != 32 {
		t.Errorf("stream id: got %q, want 32 hex characters", start.StreamID)
	}
	if start.GroupID == 0 {
		t.Error("group id: got 0, want nonzero")
	}
}

func TestPreludeWithoutCaps(t *testing.T) {
	t.Parallel()

	p, src, peer := newPreludeHarness()
	if err := p.run(context.Background(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertLabels(t, peer.snapshot(), []string{"stream-start", "segment"})
	if got := p.negotiatedCaps(); got != nil {
		t.Errorf("negotiated: got %v, want nil", got)
	}
}

func TestPreludeArmSegment(t *testing.T) {
	t.Parallel()

	p, src, peer := newPreludeHarness()
	ctx := context.Background()
	if err := p.run(ctx, src); err != nil {
		t.Fatalf("run: %v", err)
	}
	peer.reset()

	p.armSegment()
	if err := p.run(ctx, src); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertLabels(t, peer.snapshot(), []string{"segment"})
}

func TestPreludeResetKeepsCaps(t *testing.T) {
	t.Parallel()

	p, src, peer := newPreludeHarness()
	p.prepare(media.NewSimpleCaps("video/mp2t"))

	ctx := context.Background()
	if err := p.run(ctx, src); err != nil {
		t.Fatalf("run: %v", err)
	}
	p.reset()
	if got := p.negotiatedCaps(); got != nil {
		t.Errorf("negotiated after reset: got %v, want nil", got)
	}
	peer.reset()

	if err := p.run(ctx, src); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertLabels(t, peer.snapshot(), []string{"stream-start", "caps", "segment"})

	first := peer.events[0].(media.StreamStart)
	p.reset()
	if err := p.run(ctx, src); err != nil {
		t.Fatalf("run: %v", err)
	}
	second := peer.events[3].(media.StreamStart)
	if first.StreamID == second.StreamID {
		t.Errorf("stream id reused across sessions: %q", first.StreamID)
	}
}

func TestPreludeCancelledDoesNotCommit(t *testing.T) {
	t.Parallel()

	p, src, peer := newPreludeHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.run(ctx, src)
	if !errors.Is(err, media.ErrFlushing) {
		t.Fatalf("run: got %v, want ErrFlushing", err)
	}
	if got := peer.snapshot(); len(got) != 0 {
		t.Fatalf("pushed %v while cancelled", got)
	}

	if err := p.run(context.Background(), src); err != nil {
		t.Fatalf("run: %v", err)
	}
	assertLabels(t, peer.snapshot(), []string{"stream-start", "segment"})
}

func TestNewPreludeDefaultsLogger(t *testing.T) {
	t.Parallel()

	p := newPrelude(nil)
	if p.log == nil {
		t.Fatal("log: got nil, want slog.Default()")
	}
}
