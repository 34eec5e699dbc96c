// srt-push publishes a file to the bridge's SRT listener at a fixed byte
// rate, optionally looping, so the ingest path can be exercised without an
// encoder.
//
// Usage:
//
//	srt-push -file input.ts -key demo -rate 500000
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	srt "github.com/zsiec/srtgo"
	"golang.org/x/time/rate"
)

const packetSize = 188

func main() {
	file := flag.String("file", "", "file to publish")
	key := flag.String("key", "", "stream key (default: file name without extension)")
	addr := flag.String("addr", "127.0.0.1:6000", "SRT listener address")
	bytesPerSec := flag.Int("rate", 250_000, "send rate in bytes per second")
	loop := flag.Bool("loop", false, "restart from the beginning at end of file")
	flag.Parse()

	if *file == "" && flag.NArg() > 0 {
		*file = flag.Arg(0)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: srt-push -file <input> [-key name] [-addr host:port] [-rate bytes/s] [-loop]")
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		slog.Error("reading file", "error", err)
		os.Exit(1)
	}
	if len(data)%packetSize != 0 {
		slog.Warn("file size is not a multiple of the packet size", "size", len(data), "packet_size", packetSize)
	}

	streamID := streamIDFor(*file, *key)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	p := pusher{
		addr:     *addr,
		streamID: streamID,
		chunks:   split(data, 7*packetSize),
		limiter:  rate.NewLimiter(rate.Limit(*bytesPerSec), 7*packetSize),
		loop:     *loop,
	}
	if err := p.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("push failed", "stream_id", streamID, "error", err)
		os.Exit(1)
	}
}

type pusher struct {
	addr     string
	streamID string
	chunks   [][]byte
	limiter  *rate.Limiter
	loop     bool
}

func (p *pusher) run(ctx context.Context) error {
	cfg := srt.DefaultConfig()
	cfg.StreamID = p.streamID

	conn, err := srt.Dial(p.addr, cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.addr, err)
	}
	defer conn.Close()
	slog.Info("connected", "addr", p.addr, "stream_id", p.streamID, "chunks", len(p.chunks))

	start := time.Now()
	var sent int64
	for pass := 1; ; pass++ {
		for _, c := range p.chunks {
			if err := p.limiter.WaitN(ctx, len(c)); err != nil {
				return err
			}
			if _, err := conn.Write(c); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			sent += int64(len(c))
		}
		slog.Info("pass complete", "pass", pass, "bytes", sent, "elapsed", time.Since(start).Truncate(time.Millisecond))
		if !p.loop {
			return nil
		}
	}
}

// streamIDFor returns the SRT stream ID for a publish of file.
func streamIDFor(file, key string) string {
	if key == "" {
		base := filepath.Base(file)
		key = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "live/" + key
}

// split cuts data into chunks of at most size bytes without copying.
func split(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		out = append(out, data[:n:n])
		data = data[n:]
	}
	return out
}
