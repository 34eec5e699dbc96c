package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/tsappsrc/internal/appsrc"
	"github.com/zsiec/tsappsrc/internal/distribution"
	"github.com/zsiec/tsappsrc/internal/ingest"
	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/metrics"
	"github.com/zsiec/tsappsrc/internal/sched"
)

type fixture struct {
	element *appsrc.Element
	relay   *distribution.Relay
	ingest  *ingest.Registry
	handler http.Handler
}

func newFixture(t *testing.T, level appsrc.Level) *fixture {
	t.Helper()

	contexts := sched.NewRegistry(nil, 2)
	reg := prometheus.NewRegistry()
	col, err := metrics.NewCollector("api", reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	st := appsrc.DefaultSettings()
	st.Context = t.Name()
	st.Caps = media.NewSimpleCaps("video/mpegts")
	e := appsrc.New(appsrc.Options{Name: "src0", Registry: contexts, Metrics: col, Settings: &st})
	relay := distribution.NewRelay(nil)
	e.Src().Link(relay)

	if err := e.SetLevel(level); err != nil {
		t.Fatalf("SetLevel(%v): %v", level, err)
	}
	t.Cleanup(func() { _ = e.SetLevel(appsrc.LevelNull) })

	producers := ingest.NewRegistry(1, nil)
	srv := NewServer(Config{
		Element:  e,
		Relay:    relay,
		Contexts: contexts,
		Ingest:   producers,
		Gatherer: reg,
	})
	return &fixture{element: e, relay: relay, ingest: producers, handler: srv.Handler()}
}

func (f *fixture) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPushBufferAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)

	rec := f.do(http.MethodPost, "/api/buffers?pts=1s&offset=188", strings.NewReader("payload"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body)
	}
	waitFor(t, "relay buffer", func() bool { return f.relay.Snapshot().Buffers == 1 })

	if got := f.relay.Snapshot().Bytes; got != int64(len("payload")) {
		t.Errorf("relay bytes = %d, want %d", got, len("payload"))
	}
	if got := f.relay.Caps(); got == nil || got.String() != "video/mpegts" {
		t.Errorf("relay caps = %v, want video/mpegts", got)
	}
}

func TestPushBufferRefusedWhenStopped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelReady)

	rec := f.do(http.MethodPost, "/api/buffers", strings.NewReader("x"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestPushBufferInvalidParams(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)

	for _, target := range []string{
		"/api/buffers?pts=soon",
		"/api/buffers?duration=1",
		"/api/buffers?offset=-1",
	} {
		rec := f.do(http.MethodPost, target, strings.NewReader("x"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestPushBufferTooLarge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)
	f.handler = NewServer(Config{
		Element:      f.element,
		Relay:        f.relay,
		MaxBodyBytes: 4,
	}).Handler()

	rec := f.do(http.MethodPost, "/api/buffers", strings.NewReader("too large"))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestEndOfStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)

	rec := f.do(http.MethodPost, "/api/eos", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	waitFor(t, "relay eos", f.relay.EOS)
}

func TestEndOfStreamRefusedWhenStopped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	rec := f.do(http.MethodPost, "/api/eos", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)

	rec := f.do(http.MethodPost, "/api/flush", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	if got := f.element.State(); got != appsrc.StateStarted {
		t.Errorf("state after flush = %v, want %v", got, appsrc.StateStarted)
	}

	rec = f.do(http.MethodPost, "/api/buffers", strings.NewReader("after"))
	if rec.Code != http.StatusAccepted {
		t.Errorf("push after flush: status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestSetState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	rec := f.do(http.MethodPost, "/api/state/playing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["level"] != "playing" {
		t.Errorf("level = %q, want %q", body["level"], "playing")
	}
	if body["state"] != appsrc.StateStarted.String() {
		t.Errorf("state = %q, want %q", body["state"], appsrc.StateStarted.String())
	}

	rec = f.do(http.MethodPost, "/api/state/null", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if f.element.Prepared() {
		t.Error("element still prepared at null")
	}
}

func TestSetStateUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	rec := f.do(http.MethodPost, "/api/state/running", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSetStateFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)
	f.element.SetMaxBuffers(0)

	rec := f.do(http.MethodPost, "/api/state/playing", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if got := f.element.Level(); got != appsrc.LevelNull {
		t.Errorf("level = %v, want %v", got, appsrc.LevelNull)
	}
}

func TestSettingsPatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	body := `{"maxBuffers": 32, "contextWait": "20ms", "caps": "video/mpegts, packetsize=188", "doTimestamp": true}`
	rec := f.do(http.MethodPatch, "/api/settings", strings.NewReader(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}

	st := f.element.Settings()
	if st.MaxBuffers != 32 {
		t.Errorf("MaxBuffers = %d, want 32", st.MaxBuffers)
	}
	if st.ContextWait != 20*time.Millisecond {
		t.Errorf("ContextWait = %v, want 20ms", st.ContextWait)
	}
	if !st.DoTimestamp {
		t.Error("DoTimestamp = false, want true")
	}
	if st.Caps == nil || st.Caps.Structures()[0].Fields["packetsize"] != "188" {
		t.Errorf("Caps = %v, want packetsize=188", st.Caps)
	}
	if st.Context != t.Name() {
		t.Errorf("Context = %q, want unchanged %q", st.Context, t.Name())
	}
}

func TestSettingsPatchInvalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	for _, body := range []string{
		`{"maxBuffers": 0}`,
		`{"contextWait": "2s"}`,
		`{"contextWait": "later"}`,
		`{"caps": ", broken"}`,
		`not json`,
	} {
		rec := f.do(http.MethodPatch, "/api/settings", strings.NewReader(body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
	if got := f.element.Settings().MaxBuffers; got != appsrc.DefaultMaxBuffers {
		t.Errorf("MaxBuffers = %d, want unchanged %d", got, appsrc.DefaultMaxBuffers)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPaused)

	rec := f.do(http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var st Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Element != "src0" {
		t.Errorf("Element = %q, want %q", st.Element, "src0")
	}
	if st.Level != "paused" {
		t.Errorf("Level = %q, want %q", st.Level, "paused")
	}
	if !st.Prepared {
		t.Error("Prepared = false, want true")
	}
	if st.Settings.MaxBuffers != appsrc.DefaultMaxBuffers {
		t.Errorf("Settings.MaxBuffers = %d, want %d", st.Settings.MaxBuffers, appsrc.DefaultMaxBuffers)
	}
	if len(st.Contexts) != 1 || st.Contexts[0].Name != t.Name() {
		t.Errorf("Contexts = %+v, want one named %q", st.Contexts, t.Name())
	}
	if st.Producers == nil {
		t.Error("Producers = nil, want empty list")
	}
	if st.Accepts != "ANY" {
		t.Errorf("Accepts = %q, want %q", st.Accepts, "ANY")
	}
	if st.Position != "" {
		t.Errorf("Position = %q, want empty before any buffer", st.Position)
	}
}

func TestStatusReportsRelayPosition(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)
	f.relay.SetAcceptCaps(media.NewSimpleCaps("video/mpegts"))

	rec := f.do(http.MethodPost, "/api/buffers?pts=2s", strings.NewReader("x"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("push: status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	waitFor(t, "relay buffer", func() bool { return f.relay.Snapshot().Buffers == 1 })

	var st Status
	if err := json.NewDecoder(f.do(http.MethodGet, "/api/status", nil).Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Position != "2s" {
		t.Errorf("Position = %q, want %q", st.Position, "2s")
	}
	if st.Accepts != "video/mpegts" {
		t.Errorf("Accepts = %q, want %q", st.Accepts, "video/mpegts")
	}
}

func TestProducer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	if rec := f.do(http.MethodGet, "/api/producers/cam", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	if _, _, err := f.ingest.Register("cam"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer f.ingest.Unregister("cam")

	rec := f.do(http.MethodGet, "/api/producers/cam", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var stats ingest.IngestStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Key != "cam" {
		t.Errorf("Key = %q, want %q", stats.Key, "cam")
	}
}

func TestViewers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)
	f.relay.AddViewer(distribution.NewChannelViewer("v1", 4))

	rec := f.do(http.MethodGet, "/api/viewers", nil)
	var stats []distribution.ViewerStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats) != 1 || stats[0].ID != "v1" {
		t.Errorf("viewers = %+v, want [v1]", stats)
	}
}

func TestStreamUntilEOS(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(rec, req)
	}()

	waitFor(t, "viewer", func() bool { return f.relay.ViewerCount() == 1 })
	for _, chunk := range []string{"abc", "def"} {
		if !f.element.PushBuffer(media.NewBuffer([]byte(chunk))) {
			t.Fatalf("PushBuffer(%q) refused", chunk)
		}
	}
	if !f.element.EndOfStream() {
		t.Fatal("EndOfStream refused")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on eos")
	}
	if got := rec.Body.String(); got != "abcdef" {
		t.Errorf("body = %q, want %q", got, "abcdef")
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mpegts" {
		t.Errorf("Content-Type = %q, want %q", got, "video/mpegts")
	}
	if got := f.relay.ViewerCount(); got != 0 {
		t.Errorf("viewers after stream = %d, want 0", got)
	}
}

func TestStreamAfterEOSEndsImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)

	if !f.element.EndOfStream() {
		t.Fatal("EndOfStream refused")
	}
	waitFor(t, "relay eos", f.relay.EOS)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- f.do(http.MethodGet, "/api/stream", nil) }()
	select {
	case rec := <-done:
		if rec.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", rec.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end for a finished stream")
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelNull)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(httptest.NewRecorder(), req)
	}()

	waitFor(t, "viewer", func() bool { return f.relay.ViewerCount() == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on disconnect")
	}
	waitFor(t, "viewer removal", func() bool { return f.relay.ViewerCount() == 0 })
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, appsrc.LevelPlaying)
	f.do(http.MethodPost, "/api/buffers", bytes.NewReader([]byte{0x47}))

	rec := f.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "api_items_submitted_total") {
		t.Error("metrics output missing api_items_submitted_total")
	}
}
