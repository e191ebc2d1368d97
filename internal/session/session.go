package session

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resonance-ai/relay/internal/hub"
	"github.com/resonance-ai/relay/internal/queue"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// Session is one connected viewer.
type Session struct {
	id          string
	remote      string
	connectedAt time.Time

	conn   Conn
	queue  *queue.Queue[hub.Event]
	mgr    *Manager
	logger *slog.Logger

	closeOnce sync.Once
	closing   chan struct{} // Closed when teardown starts
	done      chan struct{} // Closed when teardown has finished
	reason    string        // Set once, before closing is closed

	sent    atomic.Int64
	dropped atomic.Int64
}

func newSession(m *Manager, conn Conn, remote string) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		remote:      remote,
		connectedAt: time.Now(),
		conn:        conn,
		queue:       queue.New[hub.Event](m.cfg.QueueSize, m.cfg.Overflow.queuePolicy()),
		mgr:         m,
		logger:      m.logger.With("session_id", id, "remote", remote),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Remote returns the peer address.
func (s *Session) Remote() string {
	return s.remote
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Enqueue adds ev to the outbound queue without blocking. It reports
// whether ev was accepted.
func (s *Session) Enqueue(ev hub.Event) bool {
	evicted, err := s.queue.Push(ev)
	if err != nil {
		if errors.Is(err, queue.ErrFull) {
			s.dropped.Add(1)
			s.mgr.metrics.Dropped("slow_consumer")
			s.logger.Warn("session queue full, disconnecting", "capacity", s.queue.Cap())
			s.shutdown(ReasonOverflow)
		}
		return false
	}

	if evicted {
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("session queue full, dropped oldest message", "dropped", n)
		}
		s.mgr.metrics.Dropped("queue_full")
	}
	return true
}

// Close tears the session down.
func (s *Session) Close() {
	s.shutdown(ReasonShutdown)
}

// Info returns a snapshot for the debug endpoint.
func (s *Session) Info() Info {
	return Info{
		ID:          s.id,
		Remote:      s.remote,
		ConnectedAt: s.connectedAt,
		Queued:      s.queue.Len(),
		Sent:        s.sent.Load(),
		Dropped:     s.dropped.Load(),
	}
}

// shutdown starts teardown. The writer finishes the frame in flight, then
// unregisters and closes the connection. It never blocks and never touches
// the hub.
func (s *Session) shutdown(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closing)
		s.queue.Close()
		if n := s.queue.Discard(); n > 0 {
			s.logger.Debug("discarded queued messages", "count", n)
		}
	})
}

// readLoop consumes inbound frames so control frames are processed, and
// detects the peer going away.
func (s *Session) readLoop() {
	defer s.mgr.wg.Done()

	cfg := s.mgr.cfg
	s.conn.SetReadLimit(cfg.ReadLimit)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			reason := readReason(err)
			select {
			case <-s.closing:
			default:
				s.logger.Debug("session read ended", "reason", reason, "error", err)
			}
			s.shutdown(reason)
			return
		}
		// Viewers are not expected to send anything; inbound data only
		// proves liveness.
		s.extendReadDeadline()
	}
}

func (s *Session) extendReadDeadline() {
	if d := s.mgr.cfg.PongTimeout; d > 0 {
		s.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// writeLoop is the only writer of data frames. It runs teardown when the
// queue is closed.
func (s *Session) writeLoop() {
	defer s.mgr.wg.Done()
	defer s.teardown()

	for {
		ev, ok := s.queue.Pop()
		if !ok {
			return
		}

		if d := s.mgr.cfg.WriteTimeout; d > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(d))
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, ev.Frame); err != nil {
			s.logger.Debug("session write failed", "event", ev.Name, "error", err)
			s.shutdown(ReasonWriteError)
			return
		}
		s.sent.Add(1)
	}
}

// keepaliveLoop sends pings. WriteControl may run concurrently with the
// writer.
func (s *Session) keepaliveLoop() {
	defer s.mgr.wg.Done()

	interval := s.mgr.cfg.PingInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.mgr.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				s.shutdown(ReasonWriteError)
				return
			}
		}
	}
}

// teardown runs once, on the writer goroutine, after shutdown closed the
// queue.
func (s *Session) teardown() {
	s.mgr.remove(s)

	code, text := closeCode(s.reason)
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second),
	)
	s.conn.Close()

	s.mgr.closed(s)
	close(s.done)
}

func readReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ReasonPeerClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonReadError
}

func closeCode(reason string) (int, string) {
	switch reason {
	case ReasonShutdown:
		return websocket.CloseGoingAway, "server shutting down"
	case ReasonOverflow:
		return websocket.CloseTryAgainLater, "viewer too slow"
	default:
		return websocket.CloseNormalClosure, ""
	}
}
