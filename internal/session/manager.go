package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resonance-ai/relay/internal/audit"
	"github.com/resonance-ai/relay/internal/hub"
	"github.com/resonance-ai/relay/internal/metrics"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records session counts and drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithAuditor records session open and close events.
func WithAuditor(a audit.Auditor) Option {
	return func(mgr *Manager) {
		if a != nil {
			mgr.auditor = a
		}
	}
}

// Manager accepts viewers, registers them with the hub and tears them down.
type Manager struct {
	cfg      Config
	hub      *hub.Hub
	logger   *slog.Logger
	metrics  *metrics.Metrics
	auditor  audit.Auditor
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	shut     bool

	wg sync.WaitGroup
}

// NewManager creates a new Manager.
func NewManager(cfg Config, h *hub.Hub, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}

	m := &Manager{
		cfg:      cfg,
		hub:      h,
		logger:   logger.With("component", "sessions"),
		auditor:  audit.Nop{},
		sessions: make(map[string]*Session),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     m.checkOrigin,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Accept wraps conn in a session, registers it with the hub and starts its
// goroutines. The connection is owned by the session afterwards.
func (m *Manager) Accept(conn Conn, remote string) (*Session, error) {
	s := newSession(m, conn, remote)

	m.mu.Lock()
	if m.shut {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManyViewers
	}
	m.sessions[s.id] = s
	m.wg.Add(3)
	m.mu.Unlock()

	// Register before the goroutines start so teardown always finds the
	// hub entry it removes.
	m.hub.Register(s)

	go s.readLoop()
	go s.writeLoop()
	go s.keepaliveLoop()

	m.metrics.SessionOpened()
	m.auditor.Record(audit.Event{
		At:        s.connectedAt,
		Kind:      audit.KindSessionOpen,
		SessionID: s.id,
		Remote:    remote,
	})
	s.logger.Info("session opened", "sessions", m.Len())

	return s, nil
}

// ServeHTTP upgrades the request to a WebSocket and accepts it.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := m.admit(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		m.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if _, err := m.Accept(conn, r.RemoteAddr); err != nil {
		m.logger.Warn("rejecting viewer", "remote", r.RemoteAddr, "error", err)
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}

// admit is a cheap pre-check before upgrading; Accept checks again.
func (m *Manager) admit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shut {
		return ErrManagerClosed
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return ErrTooManyViewers
	}
	return nil
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	if len(m.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range m.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

// Shutdown closes every session and waits for their goroutines. No new
// sessions are accepted afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shut = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("closing sessions", "count", len(sessions))

	for _, s := range sessions {
		s.shutdown(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all sessions closed")
		return nil
	case <-ctx.Done():
		m.logger.Warn("session shutdown timed out", "remaining", m.Len())
		return ctx.Err()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot describes every live session, oldest first.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// remove drops s from the registry and the hub.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	m.hub.Unregister(s.id)
}

// closed records a finished session.
func (m *Manager) closed(s *Session) {
	m.metrics.SessionClosed(s.reason)
	m.auditor.Record(audit.Event{
		At:        time.Now(),
		Kind:      audit.KindSessionClose,
		SessionID: s.id,
		Remote:    s.remote,
		Reason:    s.reason,
	})
	s.logger.Info("session closed",
		"reason", s.reason,
		"duration", time.Since(s.connectedAt).Round(time.Millisecond),
		"sent", s.sent.Load(),
		"dropped", s.dropped.Load(),
	)
}
