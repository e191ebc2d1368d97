package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/resonance-ai/relay/internal/metrics"
	"github.com/resonance-ai/relay/internal/session"
	"github.com/resonance-ai/relay/internal/upstream"
	"github.com/resonance-ai/relay/internal/version"
)

// Sessions is the viewer endpoint plus its introspection.
type Sessions interface {
	http.Handler
	Len() int
	Snapshot() []session.Info
}

// Upstream reports the subscriber's link.
type Upstream interface {
	State() upstream.State
	Stats() upstream.Stats
}

// Config configures the Server.
type Config struct {
	Addr              string
	Instance          string
	UpstreamAddress   string
	StaticDir         string // Empty disables static files
	SocketPath        string
	MetricsPath       string // Used only when Metrics is set
	ReadHeaderTimeout time.Duration
}

// Server is the relay's HTTP surface.
type Server struct {
	cfg      Config
	sessions Sessions
	upstream Upstream
	metrics  *metrics.Metrics
	logger   *slog.Logger

	http     *http.Server
	listener net.Listener
	started  time.Time
}

// New creates a Server. m may be nil, in which case no metrics endpoint is
// mounted.
func New(cfg Config, sessions Sessions, up Upstream, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/socket"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		upstream: up,
		metrics:  m,
		logger:   logger.With("component", "http"),
		started:  time.Now(),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.cfg.SocketPath, s.sessions)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/sessions", s.handleSessions)

	if s.metrics != nil {
		mux.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}

	if s.cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return mux
}

// Listen binds the listening socket, so address errors surface before
// Serve.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Serve handles requests until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("http server listening",
		"addr", s.Addr(),
		"socket_path", s.cfg.SocketPath,
		"static_dir", s.cfg.StaticDir,
	)

	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections. Hijacked WebSocket connections are
// not affected; the session manager closes those.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.http.Shutdown(ctx)
}

// Health is the /health response body.
type Health struct {
	Status    string         `json:"status"`
	Instance  string         `json:"instance"`
	Version   version.Info   `json:"version"`
	Uptime    string         `json:"uptime"`
	Upstream  UpstreamHealth `json:"upstream"`
	Sessions  int            `json:"sessions"`
	CheckedAt time.Time      `json:"checked_at"`
}

// UpstreamHealth describes the subscriber in Health.
type UpstreamHealth struct {
	Address      string     `json:"address"`
	State        string     `json:"state"`
	Frames       int64      `json:"frames"`
	DecodeErrors int64      `json:"decode_errors"`
	Reconnects   int64      `json:"reconnects"`
	LastFrameAt  *time.Time `json:"last_frame_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.upstream.Stats()

	health := Health{
		Status:   "healthy",
		Instance: s.cfg.Instance,
		Version:  version.Get(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Upstream: UpstreamHealth{
			Address:      s.cfg.UpstreamAddress,
			State:        st.State.String(),
			Frames:       st.FramesReceived,
			DecodeErrors: st.DecodeErrors,
			Reconnects:   st.Reconnects,
		},
		Sessions:  s.sessions.Len(),
		CheckedAt: time.Now().UTC(),
	}
	if !st.LastFrameAt.IsZero() {
		last := st.LastFrameAt.UTC()
		health.Upstream.LastFrameAt = &last
	}

	// Viewers are still served while the link is down.
	if st.State != upstream.StateSubscribed {
		health.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.Snapshot()

	// Limit to first 100 for debugging
	limit := 100
	showing := sessions
	if len(showing) > limit {
		showing = showing[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"showing":  len(showing),
		"sessions": showing,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
