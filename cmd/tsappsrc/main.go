package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsappsrc/internal/api"
	"github.com/zsiec/tsappsrc/internal/appsrc"
	"github.com/zsiec/tsappsrc/internal/certs"
	"github.com/zsiec/tsappsrc/internal/config"
	"github.com/zsiec/tsappsrc/internal/distribution"
	"github.com/zsiec/tsappsrc/internal/ingest"
	srtingest "github.com/zsiec/tsappsrc/internal/ingest/srt"
	"github.com/zsiec/tsappsrc/internal/metrics"
	"github.com/zsiec/tsappsrc/internal/sched"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	settings, err := cfg.Settings()
	if err != nil {
		slog.Error("invalid element settings", "error", err)
		os.Exit(1)
	}
	accept, err := cfg.AcceptCaps()
	if err != nil {
		slog.Error("invalid relay caps", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col, err := metrics.NewCollector("tsappsrc", reg)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	a := &app{
		cfg:      cfg,
		contexts: sched.NewRegistry(nil, cfg.Workers),
		relay:    distribution.NewRelay(nil),
	}
	a.element = appsrc.New(appsrc.Options{
		Name:     cfg.Element.Name,
		Registry: a.contexts,
		Metrics:  col,
		Settings: &settings,
		OnError: func(err error) {
			slog.Error("streaming stopped", "element", cfg.Element.Name, "error", err)
		},
	})
	a.relay.SetAcceptCaps(accept)
	a.element.Src().Link(a.relay)

	slog.Info("tsappsrc starting",
		"version", version,
		"srt", cfg.SRTAddr,
		"api", cfg.APIAddr,
		"element", cfg.Element.Name,
		"context", settings.Context,
		"max_buffers", settings.MaxBuffers,
	)

	if err := a.element.SetLevel(appsrc.LevelPlaying); err != nil {
		slog.Error("failed to start element", "error", err)
		os.Exit(1)
	}
	defer a.shutdown()

	g, ctx := errgroup.WithContext(ctx)

	// The ingest callback captures the errgroup context so pumps stop when
	// any component fails.
	a.ingest = ingest.NewRegistry(1, func(s *ingest.Stream, input io.Reader) {
		a.handleNewStream(ctx, s, input)
	})

	srtSrv := srtingest.NewServer(cfg.SRTAddr, a.ingest, nil)

	apiSrv := &http.Server{
		Addr: cfg.APIAddr,
		Handler: api.NewServer(api.Config{
			Element:      a.element,
			Relay:        a.relay,
			Contexts:     a.contexts,
			Ingest:       a.ingest,
			Gatherer:     reg,
			ViewerBuffer: cfg.Relay.ViewerBuffer,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	if cfg.APITLS {
		id, err := certs.SelfSigned(certs.Options{})
		if err != nil {
			slog.Error("failed to generate cert", "error", err)
			a.shutdown()
			os.Exit(1)
		}
		slog.Info("certificate generated",
			"fingerprint", id.FingerprintHex(),
			"expires", id.NotAfter.Format(time.RFC3339),
		)
		apiSrv.TLSConfig = id.TLSConfig()
	}

	g.Go(func() error {
		slog.Info("API server listening", "addr", cfg.APIAddr, "tls", cfg.APITLS)
		var err error
		if cfg.APITLS {
			err = apiSrv.ListenAndServeTLS("", "")
		} else {
			err = apiSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		a.shutdown()
		os.Exit(1)
	}
}

type app struct {
	cfg      config.Config
	contexts *sched.Registry
	element  *appsrc.Element
	relay    *distribution.Relay
	ingest   *ingest.Registry
}

// handleNewStream starts a fresh element session for each publisher so
// that a previous end-of-stream does not leave the streaming task halted.
func (a *app) handleNewStream(ctx context.Context, s *ingest.Stream, input io.Reader) {
	log := slog.With("stream", s.Key)

	if err := a.element.SetLevel(appsrc.LevelReady); err != nil {
		log.Error("failed to reset element", "error", err)
		return
	}
	if err := a.element.SetLevel(appsrc.LevelPlaying); err != nil {
		log.Error("failed to restart element", "error", err)
		return
	}

	pump := ingest.NewPump(a.element, ingest.PumpConfig{
		ChunkSize:  a.cfg.Ingest.ChunkSize,
		MaxRetries: a.cfg.Ingest.MaxRetries,
	}, nil)
	if err := pump.Run(ctx, s, input); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("pump stopped", "error", err)
	}
	if c, ok := input.(io.Closer); ok {
		c.Close()
	}
}

func (a *app) shutdown() {
	if err := a.element.SetLevel(appsrc.LevelNull); err != nil {
		slog.Error("failed to stop element", "error", err)
	}
	a.contexts.Close()
}
