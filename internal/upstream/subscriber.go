package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/resonance-ai/relay/internal/metrics"
	"github.com/resonance-ai/relay/internal/model"
)

// Subscriber maintains the upstream link and emits decoded messages.
type Subscriber interface {
	// Start launches the connect/read/reconnect loop. It does not wait for
	// the first connection.
	Start(ctx context.Context) error

	// Stop cancels the loop, closes the socket and waits for the loop to
	// exit. Messages is closed afterwards.
	Stop(ctx context.Context) error

	// Messages returns the channel of decoded telemetry.
	Messages() <-chan model.TelemetryMessage

	// State returns the current link state.
	State() State

	// Stats returns current statistics.
	Stats() Stats
}

// ClientFactory creates the Client used for one connection attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// Option configures a Subscriber.
type Option func(*subscriber)

// WithMetrics records frames, decode errors, reconnects and state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *subscriber) { s.metrics = m }
}

// OnStateChange registers fn, called from the loop goroutine on every
// transition. fn must not block.
func OnStateChange(fn func(StateChange)) Option {
	return func(s *subscriber) { s.onChange = fn }
}

// WithClientFactory replaces the ZeroMQ client, mainly for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(s *subscriber) { s.newClient = f }
}

// subscriber implements the Subscriber interface.
type subscriber struct {
	cfg       SubscriberConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	newClient ClientFactory
	onChange  func(StateChange)

	out chan model.TelemetryMessage

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	mu         sync.RWMutex
	state      State
	stats      Stats
	subscribed bool // Reached Subscribed at least once
}

// NewSubscriber creates a new Subscriber.
func NewSubscriber(cfg SubscriberConfig, logger *slog.Logger, opts ...Option) Subscriber {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultSubscriberConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}
	if cfg.MessageBufferSize < 0 {
		cfg.MessageBufferSize = 0
	}

	s := &subscriber{
		cfg:       cfg,
		logger:    logger.With("component", "upstream"),
		newClient: NewClient,
		out:       make(chan model.TelemetryMessage, cfg.MessageBufferSize),
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics.SetUpstreamState(s.state.String(), StateNames())

	return s
}

// Start begins the subscription loop.
func (s *subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()

	s.logger.Info("upstream subscriber started",
		"address", s.cfg.Address,
		"topic", s.cfg.Topic,
	)

	return nil
}

// Stop gracefully shuts down.
func (s *subscriber) Stop(ctx context.Context) error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()

	if cancel == nil {
		return nil
	}

	s.logger.Info("stopping upstream subscriber")
	cancel()

	// Wait for the loop with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, subscriber loop still running")
		return ctx.Err()
	}

	s.logger.Info("upstream subscriber stopped")
	return nil
}

// Messages returns the decoded telemetry channel.
func (s *subscriber) Messages() <-chan model.TelemetryMessage {
	return s.out
}

// State returns the current link state.
func (s *subscriber) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns current statistics.
func (s *subscriber) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.State = s.state
	return st
}

func (s *subscriber) clientConfig() ClientConfig {
	return ClientConfig{
		Address:     s.cfg.Address,
		Topic:       s.cfg.Topic,
		ReadTimeout: s.cfg.ReadTimeout,
		BufferSize:  s.cfg.FrameBufferSize,
	}
}

// run owns the socket for the subscriber's whole life, so at most one
// connection attempt exists at any time.
func (s *subscriber) run() {
	defer s.wg.Done()
	defer close(s.out)
	defer s.setState(StateDisconnected, nil)

	b := &backoff.Backoff{
		Min:    s.cfg.ReconnectBaseWait,
		Max:    s.cfg.ReconnectMaxWait,
		Factor: 2,
		Jitter: true,
	}

	s.setState(StateConnecting, nil)

	for {
		if s.ctx.Err() != nil {
			return
		}

		c := s.newClient(s.clientConfig(), s.logger)

		s.mu.Lock()
		s.stats.ConnectAttempts++
		s.mu.Unlock()

		if err := c.Connect(s.ctx); err != nil {
			c.Close()
			if s.ctx.Err() != nil {
				return
			}
			wait := b.Duration()
			s.logger.Warn("upstream connect failed",
				"address", s.cfg.Address,
				"error", err,
				"retry_in", wait,
			)
			s.setState(StateReconnecting, err)
			if !s.sleep(wait) {
				return
			}
			continue
		}

		b.Reset()
		s.markSubscribed()
		s.setState(StateSubscribed, nil)
		s.logger.Info("upstream subscribed", "address", s.cfg.Address)

		err := s.consume(c)
		c.Close()
		if s.ctx.Err() != nil {
			return
		}

		wait := b.Duration()
		s.logger.Warn("upstream connection lost",
			"address", s.cfg.Address,
			"error", err,
			"retry_in", wait,
		)
		s.setState(StateReconnecting, err)
		if !s.sleep(wait) {
			return
		}
	}
}

// consume forwards frames until the client fails or the subscriber stops.
func (s *subscriber) consume(c Client) error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case err := <-c.Errors():
			return err

		case f := <-c.Frames():
			s.handleFrame(f)
		}
	}
}

func (s *subscriber) handleFrame(f Frame) {
	s.mu.Lock()
	s.stats.FramesReceived++
	s.stats.LastFrameAt = f.ReceivedAt
	s.mu.Unlock()
	s.metrics.UpstreamFrame()

	msg, err := model.Decode(f.Data)
	if err != nil {
		s.mu.Lock()
		s.stats.DecodeErrors++
		s.mu.Unlock()
		s.metrics.UpstreamDecodeError()

		s.logger.Warn("dropping malformed frame",
			"error", err,
			"size", len(f.Data),
		)
		return
	}

	s.mu.Lock()
	s.stats.Decoded++
	s.mu.Unlock()

	select {
	case s.out <- msg:
	case <-s.ctx.Done():
	}
}

func (s *subscriber) markSubscribed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		s.stats.Reconnects++
		s.metrics.UpstreamReconnect()
	}
	s.subscribed = true
}

// setState records a transition and notifies the observer. Repeated
// states are not reported again.
func (s *subscriber) setState(to State, cause error) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.metrics.SetUpstreamState(to.String(), StateNames())

	s.logger.Debug("upstream state change", "from", from, "to", to)

	if s.onChange != nil {
		s.onChange(StateChange{
			From:    from,
			To:      to,
			Address: s.cfg.Address,
			Err:     cause,
			At:      time.Now(),
		})
	}
}

// sleep waits for d and reports false if the subscriber stopped meanwhile.
func (s *subscriber) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
