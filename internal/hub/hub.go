package hub

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/resonance-ai/relay/internal/metrics"
	"github.com/resonance-ai/relay/internal/model"
)

// Session is the hub's view of a viewer session.
type Session interface {
	// ID returns the session's unique identifier.
	ID() string

	// Enqueue hands an event to the session's outbound queue without
	// blocking. It returns false if the session did not accept the event.
	Enqueue(ev Event) bool
}

// Stats contains hub statistics.
type Stats struct {
	Sessions   int
	Published  int64 // Telemetry messages published
	Deliveries int64 // Successful enqueues across all sessions
	Misses     int64 // Enqueues a session refused
}

// Hub is the registry of live sessions.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	sessions  map[string]Session
	status    Event
	hasStatus bool

	statsMu sync.Mutex
	stats   Stats
}

// New creates an empty Hub.
func New(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]Session),
	}
}

// Register adds s to the live set, replacing any session with the same id.
// If an upstream status is known it is enqueued to s before any later
// status can reach it.
func (h *Hub) Register(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.ID()]; exists {
		h.logger.Debug("session re-registered", "session", s.ID())
	}
	h.sessions[s.ID()] = s

	if h.hasStatus {
		s.Enqueue(h.status)
	}
}

// Unregister removes the session with the given id. It reports whether a
// session was removed.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[id]; !ok {
		return false
	}
	delete(h.sessions, id)
	return true
}

// Publish delivers msg as a node_b_data event to every session registered
// at the time of the call. It returns the number of sessions that accepted
// it.
func (h *Hub) Publish(msg model.TelemetryMessage) int {
	if len(msg.Raw) == 0 {
		return 0
	}

	n, missed := h.broadcast(NewEvent(EventTelemetry, msg.Raw))

	h.statsMu.Lock()
	h.stats.Published++
	h.stats.Deliveries += int64(n)
	h.stats.Misses += int64(missed)
	h.statsMu.Unlock()

	h.metrics.Published(n)
	return n
}

// PublishStatus records st as the current upstream status and sends it to
// every registered session.
func (h *Hub) PublishStatus(st Status) int {
	ev := st.event()

	h.mu.Lock()
	h.status = ev
	h.hasStatus = true
	sessions := h.snapshotLocked()
	h.mu.Unlock()

	n, _ := deliver(sessions, ev)

	h.logger.Debug("status published",
		"upstream", st.Upstream,
		"state", st.State,
		"sessions", n,
	)
	return n
}

// Status returns the last published status frame, if any.
func (h *Hub) Status() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, h.hasStatus
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions returns the registered session ids, sorted.
func (h *Hub) Sessions() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	h.statsMu.Lock()
	stats := h.stats
	h.statsMu.Unlock()

	stats.Sessions = h.Len()
	return stats
}

// broadcast snapshots the live set and enqueues ev outside the lock.
func (h *Hub) broadcast(ev Event) (delivered, missed int) {
	h.mu.RLock()
	sessions := h.snapshotLocked()
	h.mu.RUnlock()

	return deliver(sessions, ev)
}

// snapshotLocked copies the live set. Must be called with h.mu held.
func (h *Hub) snapshotLocked() []Session {
	sessions := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func deliver(sessions []Session, ev Event) (delivered, missed int) {
	for _, s := range sessions {
		if s.Enqueue(ev) {
			delivered++
		} else {
			missed++
		}
	}
	return delivered, missed
}
