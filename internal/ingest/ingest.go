// Package ingest manages producer connections feeding the application
// source: a Registry of active connections with their counters, and a Pump
// that turns a byte stream into buffers submitted through the producer API.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors for registration.
var (
	ErrStreamExists = errors.New("ingest: stream already registered")
	ErrLimitReached = errors.New("ingest: too many producers")
)

// IngestStats captures connection-level metrics for a producer, exposed
// via the status API.
type IngestStats struct {
	Key            string `json:"key"`
	BytesReceived  int64  `json:"bytesReceived"`
	ReadCount      int64  `json:"readCount"`
	ChunksQueued   int64  `json:"chunksQueued"`
	ChunksDropped  int64  `json:"chunksDropped"`
	Retries        int64  `json:"retries"`
	ConnectedAt    int64  `json:"connectedAt"`
	UptimeMs       int64  `json:"uptimeMs"`
	RemoteAddr     string `json:"remoteAddr"`
	EndOfStreamSet bool   `json:"endOfStream"`
}

// Stream represents an active producer connection. Bytes written to the
// internal pipe by the transport are read by the Pump.
type Stream struct {
	Key       string
	StartedAt time.Time
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	chunksQueued  atomic.Int64
	chunksDropped atomic.Int64
	retries       atomic.Int64
	eos           atomic.Bool
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

func (s *Stream) recordQueued(retries int) {
	s.chunksQueued.Add(1)
	s.retries.Add(int64(retries))
}

func (s *Stream) recordDropped(retries int) {
	s.chunksDropped.Add(1)
	s.retries.Add(int64(retries))
}

// SetRemoteAddr stores the remote address of the connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns a snapshot of the connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		Key:            s.Key,
		BytesReceived:  s.bytesReceived.Load(),
		ReadCount:      s.readCount.Load(),
		ChunksQueued:   s.chunksQueued.Load(),
		ChunksDropped:  s.chunksDropped.Load(),
		Retries:        s.retries.Load(),
		ConnectedAt:    s.StartedAt.UnixMilli(),
		UptimeMs:       time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:     addr,
		EndOfStreamSet: s.eos.Load(),
	}
}

// Registry tracks active producer streams by key and dispatches new
// streams to the onStream callback. It is the rendezvous point between the
// transports and the element.
type Registry struct {
	limit int

	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(s *Stream, input io.Reader)
}

// NewRegistry creates a Registry accepting at most limit concurrent
// streams (0 means unlimited). The onStream callback is invoked
// asynchronously whenever a new stream is registered.
func NewRegistry(limit int, onStream func(s *Stream, input io.Reader)) *Registry {
	return &Registry{
		limit:    limit,
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Admit reports whether a stream with key could be registered now.
func (r *Registry) Admit(key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admitLocked(key)
}

func (r *Registry) admitLocked(key string) error {
	if _, ok := r.streams[key]; ok {
		return fmt.Errorf("%w: %q", ErrStreamExists, key)
	}
	if r.limit > 0 && len(r.streams) >= r.limit {
		return fmt.Errorf("%w: limit %d", ErrLimitReached, r.limit)
	}
	return nil
}

// Register creates a new stream with the given key, returning the Stream
// and a Writer that the transport should write into.
func (r *Registry) Register(key string) (*Stream, io.Writer, error) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if err := r.admitLocked(key); err != nil {
		r.mu.Unlock()
		pw.Close()
		return nil, nil, err
	}
	r.streams[key] = stream
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(stream, pr)
	}

	return stream, pw, nil
}

// Unregister removes a stream by key, closing its pipe and signaling Done.
// The reading side sees io.EOF once buffered data is consumed.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns stats for every active stream, sorted by key.
func (r *Registry) List() []IngestStats {
	r.mu.RLock()
	out := make([]IngestStats, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s.IngestStats())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
