package audit

import (
	"log/slog"
	"time"
)

// Kind identifies what an Event describes.
type Kind string

const (
	KindSessionOpen   Kind = "session_open"
	KindSessionClose  Kind = "session_close"
	KindUpstreamState Kind = "upstream_state"
)

// Event is one lifecycle record.
type Event struct {
	At        time.Time
	Kind      Kind
	SessionID string // Empty for upstream events
	Remote    string // Viewer address or upstream endpoint
	Reason    string // Close reason or new upstream state
	Detail    string // Free-form, e.g. the error behind a transition
}

// Auditor receives lifecycle events.
type Auditor interface {
	Record(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

// LogAuditor writes events to a slog.Logger.
type LogAuditor struct {
	logger *slog.Logger
}

// NewLogAuditor creates a LogAuditor.
func NewLogAuditor(logger *slog.Logger) *LogAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAuditor{logger: logger.With("component", "audit")}
}

// Record logs ev at info level.
func (a *LogAuditor) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	attrs := []any{
		"kind", string(ev.Kind),
		"at", ev.At,
	}
	if ev.SessionID != "" {
		attrs = append(attrs, "session_id", ev.SessionID)
	}
	if ev.Remote != "" {
		attrs = append(attrs, "remote", ev.Remote)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Detail != "" {
		attrs = append(attrs, "detail", ev.Detail)
	}

	a.logger.Info("audit event", attrs...)
}
