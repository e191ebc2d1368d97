package upstream

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("already started")
)

// ConnectionError reports a failure to establish the upstream transport.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Frame is one message read from the SUB socket.
type Frame struct {
	Data       []byte    // First message part
	Parts      int       // Number of parts in the message
	ReceivedAt time.Time // Local timestamp when Recv returned
}

// ClientConfig configures a single upstream connection.
type ClientConfig struct {
	Address     string        // ZeroMQ endpoint, e.g. tcp://127.0.0.1:5557
	Topic       string        // Subscription prefix ("" = all topics)
	ReadTimeout time.Duration // Max silence before the link is stale (0 = never)
	BufferSize  int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:     "tcp://127.0.0.1:5557",
		ReadTimeout: 30 * time.Second,
		BufferSize:  256,
	}
}

// SubscriberConfig configures the Subscriber.
type SubscriberConfig struct {
	Address           string        // ZeroMQ endpoint
	Topic             string        // Subscription prefix
	ReconnectBaseWait time.Duration // First retry delay
	ReconnectMaxWait  time.Duration // Retry delay cap
	ReadTimeout       time.Duration // Stale link detection (0 = disabled)
	FrameBufferSize   int           // Per-connection frame buffer
	MessageBufferSize int           // Buffer of decoded messages for the consumer
}

// DefaultSubscriberConfig returns sensible defaults.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Address:           "tcp://127.0.0.1:5557",
		ReconnectBaseWait: 500 * time.Millisecond,
		ReconnectMaxWait:  30 * time.Second,
		ReadTimeout:       30 * time.Second,
		FrameBufferSize:   256,
		MessageBufferSize: 256,
	}
}

// State is the Subscriber's link state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateNames lists every state name, for gauges.
func StateNames() []string {
	return []string{
		StateDisconnected.String(),
		StateConnecting.String(),
		StateSubscribed.String(),
		StateReconnecting.String(),
	}
}

// StateChange describes one transition.
type StateChange struct {
	From    State
	To      State
	Address string
	Err     error // Cause for Reconnecting, nil otherwise
	At      time.Time
}

// Stats provides statistics about the subscriber.
type Stats struct {
	State           State
	ConnectAttempts int64
	Reconnects      int64
	FramesReceived  int64
	Decoded         int64
	DecodeErrors    int64
	LastFrameAt     time.Time
}
