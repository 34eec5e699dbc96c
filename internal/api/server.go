// Package api serves the HTTP control surface of the bridge: producer
// submissions, flushing, state changes, status and a live output stream.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/tsappsrc/internal/appsrc"
	"github.com/zsiec/tsappsrc/internal/distribution"
	"github.com/zsiec/tsappsrc/internal/ingest"
	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/pad"
	"github.com/zsiec/tsappsrc/internal/sched"
)

// DefaultMaxBodyBytes bounds the size of one submitted buffer.
const DefaultMaxBodyBytes = 4 << 20

// Config wires the server to the running components. Element and Relay
// are required; the rest are optional.
type Config struct {
	Element      *appsrc.Element
	Relay        *distribution.Relay
	Contexts     *sched.Registry
	Ingest       *ingest.Registry
	Gatherer     prometheus.Gatherer
	ViewerBuffer int
	MaxBodyBytes int64
	Log          *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	log *slog.Logger
	cfg Config
}

// NewServer creates a Server. If cfg.Log is nil, slog.Default() is used.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.ViewerBuffer <= 0 {
		cfg.ViewerBuffer = 256
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{log: log.With("component", "api"), cfg: cfg}
}

// Handler returns the http.Handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/buffers", s.handlePushBuffer)
	mux.HandleFunc("POST /api/eos", s.handleEOS)
	mux.HandleFunc("POST /api/flush", s.handleFlush)
	mux.HandleFunc("POST /api/state/{target}", s.handleSetState)
	mux.HandleFunc("PATCH /api/settings", s.handleSettings)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/viewers", s.handleViewers)
	mux.HandleFunc("GET /api/producers/{key}", s.handleProducer)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handlePushBuffer submits the request body as one buffer. Optional query
// parameters pts, dts and duration take Go durations; offset is a byte
// offset.
func (s *Server) handlePushBuffer(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	buf := media.NewBuffer(data)
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{{"pts", &buf.PTS}, {"dts", &buf.DTS}, {"duration", &buf.Duration}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+f.name+": "+err.Error())
			return
		}
		*f.dst = d
	}
	if v := q.Get("offset"); v != "" {
		off, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset: "+err.Error())
			return
		}
		buf.Offset = off
	}

	if !s.cfg.Element.PushBuffer(buf) {
		writeError(w, http.StatusServiceUnavailable, "buffer refused")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "size": buf.Size()})
}

func (s *Server) handleEOS(w http.ResponseWriter, _ *http.Request) {
	if !s.cfg.Element.EndOfStream() {
		writeError(w, http.StatusServiceUnavailable, "end of stream refused")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Relay.Flush(r.Context(), s.cfg.Element.Src()) {
		writeError(w, http.StatusConflict, "flush not handled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": s.cfg.Element.State().String()})
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	target, err := appsrc.ParseLevel(r.PathValue("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Element.SetLevel(target); err != nil {
		s.log.Warn("state change failed", "target", target, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"level": s.cfg.Element.Level().String(),
		"state": s.cfg.Element.State().String(),
	})
}

// SettingsView is the JSON form of appsrc.Settings.
type SettingsView struct {
	Context     string `json:"context"`
	ContextWait string `json:"contextWait"`
	Caps        string `json:"caps,omitempty"`
	MaxBuffers  int    `json:"maxBuffers"`
	DoTimestamp bool   `json:"doTimestamp"`
}

func viewSettings(st appsrc.Settings) SettingsView {
	v := SettingsView{
		Context:     st.Context,
		ContextWait: st.ContextWait.String(),
		MaxBuffers:  st.MaxBuffers,
		DoTimestamp: st.DoTimestamp,
	}
	if st.Caps != nil {
		v.Caps = st.Caps.String()
	}
	return v
}

type settingsPatch struct {
	Context     *string `json:"context"`
	ContextWait *string `json:"contextWait"`
	Caps        *string `json:"caps"`
	MaxBuffers  *int    `json:"maxBuffers"`
	DoTimestamp *bool   `json:"doTimestamp"`
}

// handleSettings updates element settings. They take effect on the next
// transition to ready.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := s.cfg.Element.Settings()
	if patch.Context != nil {
		st.Context = *patch.Context
	}
	if patch.ContextWait != nil {
		d, err := time.ParseDuration(*patch.ContextWait)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid contextWait: "+err.Error())
			return
		}
		st.ContextWait = d
	}
	if patch.Caps != nil {
		if *patch.Caps == "" {
			st.Caps = nil
		} else {
			caps, err := media.ParseCaps(*patch.Caps)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			st.Caps = caps
		}
	}
	if patch.MaxBuffers != nil {
		st.MaxBuffers = *patch.MaxBuffers
	}
	if patch.DoTimestamp != nil {
		st.DoTimestamp = *patch.DoTimestamp
	}
	if err := st.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.cfg.Element.SetSettings(st)
	writeJSON(w, http.StatusOK, viewSettings(st))
}

// Status is the payload of GET /api/status.
type Status struct {
	Element   string                  `json:"element"`
	Level     string                  `json:"level"`
	State     string                  `json:"state"`
	Task      string                  `json:"task"`
	Prepared  bool                    `json:"prepared"`
	Queued    int                     `json:"queued"`
	Settings  SettingsView            `json:"settings"`
	LastError string                  `json:"lastError,omitempty"`
	Relay     distribution.RelayStats `json:"relay"`
	Accepts   string                  `json:"accepts"`
	Position  string                  `json:"position,omitempty"`
	Contexts  []sched.ContextInfo     `json:"contexts"`
	Producers []ingest.IngestStats    `json:"producers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	e := s.cfg.Element
	st := Status{
		Element:   e.Name(),
		Level:     e.Level().String(),
		State:     e.State().String(),
		Task:      e.TaskState().String(),
		Prepared:  e.Prepared(),
		Queued:    e.Queued(),
		Settings:  viewSettings(e.Settings()),
		Relay:     s.cfg.Relay.Snapshot(),
		Contexts:  []sched.ContextInfo{},
		Producers: []ingest.IngestStats{},
	}
	if err := e.LastError(); err != nil {
		st.LastError = err.Error()
	}
	caps := &pad.CapsQuery{}
	if s.cfg.Relay.Query(caps) {
		st.Accepts = caps.Result.String()
	}
	pos := &pad.PositionQuery{}
	if s.cfg.Relay.Query(pos) {
		st.Position = media.FormatClockTime(pos.Position)
	}
	if s.cfg.Contexts != nil {
		st.Contexts = s.cfg.Contexts.List()
	}
	if s.cfg.Ingest != nil {
		st.Producers = s.cfg.Ingest.List()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleViewers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Relay.ViewerStatsAll())
}

func (s *Server) handleProducer(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if s.cfg.Ingest == nil {
		writeError(w, http.StatusNotFound, "no producer "+key)
		return
	}
	stream, ok := s.cfg.Ingest.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no producer "+key)
		return
	}
	writeJSON(w, http.StatusOK, stream.IngestStats())
}

// handleStream attaches a viewer to the relay and writes every buffer to
// the response body until end of stream or client disconnect. A viewer
// that joins after end of stream gets an empty body.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	v := distribution.NewChannelViewer("", s.cfg.ViewerBuffer)
	s.cfg.Relay.AddViewer(v)
	defer s.cfg.Relay.RemoveViewer(v.ID())

	w.Header().Set("Content-Type", s.contentType())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	write := func(d distribution.Delivery) bool {
		if d.Event != nil {
			return d.Event.Type() != media.EventEOS
		}
		if _, err := w.Write(d.Buffer.Data); err != nil {
			s.log.Debug("stream viewer write failed", "viewer", v.ID(), "error", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for {
		// The eos event itself can be dropped when the viewer is behind,
		// so the relay's end-of-stream signal also ends the response.
		select {
		case <-r.Context().Done():
			return
		case d := <-v.C():
			if !write(d) {
				return
			}
		case <-s.cfg.Relay.StreamEnded():
			for {
				select {
				case d := <-v.C():
					if !write(d) {
						return
					}
				default:
					s.log.Debug("stream viewer reached eos", "viewer", v.ID())
					return
				}
			}
		}
	}
}

// contentType names the stream after the negotiated caps, falling back to
// the configured caps before the first buffer was pushed.
func (s *Server) contentType() string {
	c := s.cfg.Relay.Caps()
	if c == nil {
		c = s.cfg.Element.Settings().Caps
	}
	if c == nil || c.IsAny() || c.IsEmpty() {
		return "application/octet-stream"
	}
	return c.Structures()[0].Name
}
