package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"code.hybscloud.com/iox"

	"github.com/zsiec/tsappsrc/internal/media"
)

// DefaultChunkSize is seven MPEG-TS packets, the usual SRT payload.
const DefaultChunkSize = 7 * 188

// Producer is the submission side of the application source.
type Producer interface {
	PushBuffer(buf *media.Buffer) bool
	EndOfStream() bool
}

// PumpConfig tunes a Pump.
type PumpConfig struct {
	// ChunkSize is the largest buffer submitted. Defaults to DefaultChunkSize.
	ChunkSize int
	// MaxRetries bounds the resubmissions of a refused chunk before it is
	// dropped.
	MaxRetries int
}

// Pump reads a byte stream and submits it to a Producer in chunks. The
// producer API never blocks and never retries, so the pump owns the retry
// policy: a refused chunk is resubmitted with adaptive backoff up to
// MaxRetries times, then dropped.
type Pump struct {
	log      *slog.Logger
	producer Producer
	cfg      PumpConfig
}

// NewPump creates a Pump. If log is nil, slog.Default() is used.
func NewPump(p Producer, cfg PumpConfig, log *slog.Logger) *Pump {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Pump{
		log:      log.With("component", "ingest-pump"),
		producer: p,
		cfg:      cfg,
	}
}

// Run submits r until EOF, then queues end-of-stream. Buffer offsets
// count bytes from the start of r. s may be nil; when set its counters are
// updated. Run returns nil on EOF, ctx.Err() on cancellation, or the read
// error.
func (p *Pump) Run(ctx context.Context, s *Stream, r io.Reader) error {
	key := ""
	if s != nil {
		key = s.Key
	}
	log := p.log.With("stream", key)
	log.Info("pump started", "chunk_size", p.cfg.ChunkSize)

	chunk := make([]byte, p.cfg.ChunkSize)
	var offset uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if s != nil {
				s.RecordRead(n)
			}
			buf := media.NewBuffer(bytes.Clone(chunk[:n]))
			buf.Offset = offset
			offset += uint64(n)
			p.submit(ctx, log, s, buf)
		}

		if errors.Is(err, io.EOF) {
			ok := p.retry(ctx, p.producer.EndOfStream)
			if s != nil {
				s.eos.Store(ok >= 0)
			}
			if ok < 0 {
				log.Warn("end of stream refused")
			}
			log.Info("pump finished", "bytes", offset)
			return nil
		}
		if err != nil {
			return fmt.Errorf("ingest: reading %s: %w", key, err)
		}
	}
}

func (p *Pump) submit(ctx context.Context, log *slog.Logger, s *Stream, buf *media.Buffer) {
	attempts := p.retry(ctx, func() bool { return p.producer.PushBuffer(buf) })
	if attempts >= 0 {
		if s != nil {
			s.recordQueued(attempts)
		}
		return
	}
	if s != nil {
		s.recordDropped(p.cfg.MaxRetries)
	}
	log.Warn("dropping chunk", "offset", buf.Offset, "size", buf.Size(), "retries", p.cfg.MaxRetries)
}

// retry calls try until it succeeds, returning the number of retries it
// took, or -1 if it never succeeded within MaxRetries or ctx ended.
func (p *Pump) retry(ctx context.Context, try func() bool) int {
	var bo iox.Backoff
	for attempt := 0; ; attempt++ {
		if try() {
			return attempt
		}
		if attempt >= p.cfg.MaxRetries || ctx.Err() != nil {
			return -1
		}
		bo.Wait()
	}
}
