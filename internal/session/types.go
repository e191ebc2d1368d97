package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/resonance-ai/relay/internal/queue"
)

// Errors
var (
	ErrManagerClosed  = errors.New("session manager closed")
	ErrTooManyViewers = errors.New("session limit reached")
)

// Close reasons, used in logs, metrics and audit records.
const (
	ReasonPeerClosed = "peer_closed"
	ReasonReadError  = "read_error"
	ReasonTimeout    = "timeout"
	ReasonWriteError = "write_error"
	ReasonOverflow   = "overflow"
	ReasonShutdown   = "shutdown"
)

// OverflowPolicy decides what happens when a session's queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued message for the new one.
	DropOldest OverflowPolicy = iota
	// Disconnect closes the session.
	Disconnect
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Disconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy parses a config value.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) queuePolicy() queue.Policy {
	if p == Disconnect {
		return queue.Reject
	}
	return queue.DropOldest
}

// Config configures the Manager.
type Config struct {
	QueueSize      int            // Outbound messages buffered per session
	Overflow       OverflowPolicy // Full-queue behavior
	WriteTimeout   time.Duration  // Deadline for a single frame write
	PingInterval   time.Duration  // Keepalive ping period (0 = no pings)
	PongTimeout    time.Duration  // Max silence from the peer (0 = no deadline)
	ReadLimit      int64          // Max inbound message size
	MaxSessions    int            // 0 = unlimited
	AllowedOrigins []string       // Empty = any origin
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    64,
		Overflow:     DropOldest,
		WriteTimeout: 10 * time.Second,
		PingInterval: 25 * time.Second,
		PongTimeout:  60 * time.Second,
		ReadLimit:    4096,
	}
}

// Info describes one live session.
type Info struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Queued      int       `json:"queued"`
	Sent        int64     `json:"sent"`
	Dropped     int64     `json:"dropped"`
}
