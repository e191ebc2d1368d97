package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resonance-ai/relay/internal/hub"
	"github.com/resonance-ai/relay/internal/metrics"
	"github.com/resonance-ai/relay/internal/model"
	"github.com/resonance-ai/relay/internal/session"
	"github.com/resonance-ai/relay/internal/upstream"
)

// fakeUpstream reports fixed stats.
type fakeUpstream struct {
	stats upstream.Stats
}

func (f *fakeUpstream) State() upstream.State { return f.stats.State }
func (f *fakeUpstream) Stats() upstream.Stats { return f.stats }

// fakeSessions serves 204 on the socket path.
type fakeSessions struct {
	infos []session.Info
}

func (f *fakeSessions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
func (f *fakeSessions) Len() int { return len(f.infos) }
func (f *fakeSessions) Snapshot() []session.Info { return f.infos }

func testConfig() Config {
	return Config{
		Addr:            "127.0.0.1:0",
		Instance:        "relay-test",
		UpstreamAddress: "tcp://127.0.0.1:5557",
		SocketPath:      "/socket",
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	last := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		state      upstream.State
		wantStatus string
	}{
		{"subscribed", upstream.StateSubscribed, "healthy"},
		{"reconnecting", upstream.StateReconnecting, "degraded"},
		{"connecting", upstream.StateConnecting, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{stats: upstream.Stats{
				State:          tt.state,
				FramesReceived: 10,
				DecodeErrors:   2,
				Reconnects:     1,
				LastFrameAt:    last,
			}}
			sessions := &fakeSessions{infos: make([]session.Info, 3)}
			srv := New(testConfig(), sessions, up, nil, nil)

			rec := get(t, srv.Handler(), "/health")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var health Health
			if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", health.Status, tt.wantStatus)
			}
			if health.Upstream.State != tt.state.String() {
				t.Errorf("Upstream.State = %q, want %q", health.Upstream.State, tt.state)
			}
			if health.Sessions != 3 {
				t.Errorf("Sessions = %d, want 3", health.Sessions)
			}
			if health.Upstream.DecodeErrors != 2 {
				t.Errorf("DecodeErrors = %d, want 2", health.Upstream.DecodeErrors)
			}
			if health.Upstream.LastFrameAt == nil || !health.Upstream.LastFrameAt.Equal(last) {
				t.Errorf("LastFrameAt = %v, want %v", health.Upstream.LastFrameAt, last)
			}
			if health.Instance != "relay-test" {
				t.Errorf("Instance = %q, want relay-test", health.Instance)
			}
		})
	}
}

func TestDebugSessions(t *testing.T) {
	infos := make([]session.Info, 150)
	for i := range infos {
		infos[i] = session.Info{ID: "s", Remote: "127.0.0.1:1"}
	}
	srv := New(testConfig(), &fakeSessions{infos: infos}, &fakeUpstream{}, nil, nil)

	rec := get(t, srv.Handler(), "/debug/sessions")

	var body struct {
		Count    int            `json:"count"`
		Showing  int            `json:"showing"`
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 150 || body.Showing != 100 || len(body.Sessions) != 100 {
		t.Errorf("count/showing/len = %d/%d/%d, want 150/100/100", body.Count, body.Showing, len(body.Sessions))
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>dashboard</h1>"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.StaticDir = dir
	srv := New(cfg, &fakeSessions{}, &fakeUpstream{}, nil, nil)

	rec := get(t, srv.Handler(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dashboard") {
		t.Errorf("body = %q, want index.html", rec.Body.String())
	}

	if rec := get(t, srv.Handler(), "/missing.js"); rec.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", rec.Code)
	}
}

func TestSocketPathRouted(t *testing.T) {
	cfg := testConfig()
	cfg.SocketPath = "/ws"
	srv := New(cfg, &fakeSessions{}, &fakeUpstream{}, nil, nil)

	if rec := get(t, srv.Handler(), "/ws"); rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 from sessions handler", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.SessionOpened()

	srv := New(testConfig(), &fakeSessions{}, &fakeUpstream{}, m, nil)
	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "relay_session_opened_total 1") {
		t.Errorf("metrics output missing relay_session_opened_total")
	}

	noMetrics := New(testConfig(), &fakeSessions{}, &fakeUpstream{}, nil, nil)
	if rec := get(t, noMetrics.Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("status without metrics = %d, want 404", rec.Code)
	}
}

func TestServeAndShutdown(t *testing.T) {
	h := hub.New(nil, nil)
	mgr := session.NewManager(session.DefaultConfig(), h, nil)
	up := &fakeUpstream{stats: upstream.Stats{State: upstream.StateSubscribed}}

	srv := New(testConfig(), mgr, up, nil, nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	base := "http://" + srv.Addr()
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/socket", nil)
	if err != nil {
		t.Fatalf("dial socket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for h.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(model.TelemetryMessage{Raw: []byte(`{"mse":0.1,"severity":"LOW"}`)})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := `{"event":"node_b_data","data":{"mse":0.1,"severity":"LOW"}}`; string(data) != want {
		t.Errorf("frame = %s, want %s", data, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("session Shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestListenAddressInUse(t *testing.T) {
	first := New(testConfig(), &fakeSessions{}, &fakeUpstream{}, nil, nil)
	if err := first.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer first.Shutdown(context.Background())
	defer first.listener.Close()

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := New(cfg, &fakeSessions{}, &fakeUpstream{}, nil, nil)
	if err := second.Listen(); err == nil {
		t.Error("expected listen on a bound address to fail")
	}
}
