package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tsappsrc/internal/ingest"
)

// readBufferSize is the read buffer for SRT socket reads: ten payloads of
// seven MPEG-TS packets.
const readBufferSize = 1316 * 10

// latencyNs is the SRT receiver latency in nanoseconds (120ms).
const latencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them with
// the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default()
// is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		if err := s.registry.Admit(extractStreamKey(req.StreamID)); err != nil {
			s.log.Warn("rejecting publisher", "stream_id", req.StreamID, "error", err)
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		streamKey := extractStreamKey(conn.StreamID())
		s.log.Info("publish", "stream_key", streamKey, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, streamKey, conn.RemoteAddr().String())
	}
}

func (s *Server) handleConnection(ctx context.Context, conn io.ReadCloser, streamKey, remote string) {
	defer conn.Close()

	stream, writer, err := s.registry.Register(streamKey)
	if err != nil {
		s.log.Warn("dropping connection", "stream_key", streamKey, "error", err)
		return
	}
	stream.SetRemoteAddr(remote)
	defer s.registry.Unregister(streamKey)

	copyStream(ctx, s.log, conn, writer, streamKey)

	stats := stream.IngestStats()
	s.log.Info("connection closed", "stream_key", streamKey,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// copyStream moves bytes from the connection into the registry pipe until
// either side fails or ctx ends.
func copyStream(ctx context.Context, log *slog.Logger, src io.Reader, dst io.Writer, streamKey string) {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				log.Debug("pipe write error", "stream_key", streamKey, "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", streamKey, "error", err)
			}
			return
		}
	}
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
