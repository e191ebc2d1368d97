package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Client represents a single SUB connection to the inference publisher.
type Client interface {
	// Connect dials the endpoint once and installs the topic filter.
	Connect(ctx context.Context) error

	// Close closes the socket and waits for the read loop to exit.
	Close() error

	// Frames returns a channel of received frames.
	Frames() <-chan Frame

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// subSocket is the part of zmq4.Socket the client uses.
type subSocket interface {
	Dial(ep string) error
	SetOption(name string, value interface{}) error
	Recv() (zmq4.Msg, error)
	Close() error
}

func newZMQSocket(ctx context.Context) subSocket {
	// Retries belong to the Subscriber, so the socket dials exactly once.
	return zmq4.NewSub(ctx, zmq4.WithDialerMaxRetries(0))
}

// client implements the Client interface.
type client struct {
	cfg       ClientConfig
	logger    *slog.Logger
	newSocket func(ctx context.Context) subSocket

	sock   subSocket
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Output channels
	frames chan Frame
	errors chan error
	done   chan struct{}

	// State
	mu          sync.RWMutex
	connected   bool
	lastFrameAt time.Time
	closed      bool
}

// NewClient creates a new ZeroMQ SUB client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	return newClient(cfg, logger, newZMQSocket)
}

func newClient(cfg ClientConfig, logger *slog.Logger, newSocket func(context.Context) subSocket) *client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &client{
		cfg:       cfg,
		logger:    logger,
		newSocket: newSocket,
		frames:    make(chan Frame, cfg.BufferSize),
		errors:    make(chan error, 1),
		done:      make(chan struct{}),
	}
}

// Connect dials the publisher and subscribes.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	sockCtx, cancel := context.WithCancel(ctx)
	sock := c.newSocket(sockCtx)

	if err := sock.Dial(c.cfg.Address); err != nil {
		sock.Close()
		cancel()
		return &ConnectionError{Address: c.cfg.Address, Err: err}
	}

	if err := sock.SetOption(zmq4.OptionSubscribe, c.cfg.Topic); err != nil {
		sock.Close()
		cancel()
		return &ConnectionError{Address: c.cfg.Address, Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sock.Close()
		cancel()
		return ErrAlreadyClosed
	}
	c.sock = sock
	c.cancel = cancel
	c.connected = true
	c.lastFrameAt = time.Now()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(sock)

	if c.cfg.ReadTimeout > 0 {
		c.wg.Add(1)
		go c.watchdogLoop()
	}

	c.logger.Debug("upstream connected", "address", c.cfg.Address, "topic", c.cfg.Topic)

	return nil
}

// Close closes the socket. Safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	sock := c.sock
	cancel := c.cancel
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	var err error
	if sock != nil {
		err = sock.Close()
		cancel()
	}

	// Recv returns once the socket is closed, so no read is left in flight.
	c.wg.Wait()

	return err
}

// Frames returns the frames channel.
func (c *client) Frames() <-chan Frame {
	return c.frames
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) lastFrame() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFrameAt
}

// report delivers err unless the client is closing or an error is already pending.
func (c *client) report(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop reads frames from the socket and sends them to the frames channel.
func (c *client) readLoop(sock subSocket) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		msg, err := sock.Recv()
		receivedAt := time.Now()

		if err != nil {
			c.report(err)
			return
		}

		if len(msg.Frames) == 0 {
			continue
		}

		c.mu.Lock()
		c.lastFrameAt = receivedAt
		c.mu.Unlock()

		frame := Frame{
			Data:       msg.Frames[0],
			Parts:      len(msg.Frames),
			ReceivedAt: receivedAt,
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame", "size", len(frame.Data))
		}
	}
}

// watchdogLoop reports ErrStaleConnection when no frame arrives for ReadTimeout.
func (c *client) watchdogLoop() {
	defer c.wg.Done()

	interval := c.cfg.ReadTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			last := c.lastFrame()
			if time.Since(last) > c.cfg.ReadTimeout {
				c.logger.Warn("no frames received, connection stale",
					"last_frame", last,
					"timeout", c.cfg.ReadTimeout,
				)
				c.report(ErrStaleConnection)
				return
			}
		}
	}
}
