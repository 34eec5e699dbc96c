package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/iox"
)

// Sentinel errors for channel operations.
var (
	ErrInvalidCapacity = errors.New("stream: capacity must be at least 1")
	ErrClosed          = errors.New("stream: channel closed")
	ErrReceiverBusy    = errors.New("stream: receiver in use")

	// ErrFull wraps iox.ErrWouldBlock so callers can treat a full channel
	// like any other non-blocking backpressure signal.
	ErrFull = fmt.Errorf("stream: channel full: %w", iox.ErrWouldBlock)
)

// Sender is the producer side of a channel. It is shared by every producer
// call and never blocks.
type Sender struct {
	mu     sync.Mutex
	ch     chan Item
	closed bool
}

// Receiver is the consumer side of a channel. At most one Receive or Purge
// runs at a time.
type Receiver struct {
	mu sync.Mutex
	ch chan Item
}

// Open creates a connected Sender/Receiver pair holding at most capacity
// queued items.
func Open(capacity int) (*Sender, *Receiver, error) {
	if capacity < 1 {
		return nil, nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	ch := make(chan Item, capacity)
	return &Sender{ch: ch}, &Receiver{ch: ch}, nil
}

// TrySend enqueues item without blocking. It returns ErrFull when the
// channel is at capacity and ErrClosed after Close. On failure the item is
// not enqueued.
func (s *Sender) TrySend(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Close drops the producer side. Items already queued remain receivable;
// once they are drained Receive reports ErrClosed.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Receive waits for the next item in submission order. It returns
// ErrClosed once the sender is closed and the queue drained, or ctx.Err()
// if ctx is done first. Cancellation never consumes an item.
func (r *Receiver) Receive(ctx context.Context) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	select {
	case item, ok := <-r.ch:
		if !ok {
			return Item{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// Purge discards every queued item without blocking and returns how many
// were dropped. It fails with ErrReceiverBusy if a Receive is in progress;
// callers must stop the consumer first.
func (r *Receiver) Purge() (int, error) {
	if !r.mu.TryLock() {
		return 0, ErrReceiverBusy
	}
	defer r.mu.Unlock()

	dropped := 0
	for {
		select {
		case _, ok := <-r.ch:
			if !ok {
				return dropped, nil
			}
			dropped++
		default:
			return dropped, nil
		}
	}
}

// Len returns the number of queued items.
func (r *Receiver) Len() int {
	return len(r.ch)
}

// Cap returns the channel capacity.
func (r *Receiver) Cap() int {
	return cap(r.ch)
}
