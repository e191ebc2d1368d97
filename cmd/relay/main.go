// relay subscribes to the inference publisher and fans telemetry out to
// dashboard viewers over WebSocket.
// Usage: go run ./cmd/relay --config configs/relay.example.yaml
//
// PORT overrides server.port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/resonance-ai/relay/internal/audit"
	"github.com/resonance-ai/relay/internal/config"
	"github.com/resonance-ai/relay/internal/database"
	"github.com/resonance-ai/relay/internal/hub"
	"github.com/resonance-ai/relay/internal/metrics"
	"github.com/resonance-ai/relay/internal/server"
	"github.com/resonance-ai/relay/internal/session"
	"github.com/resonance-ai/relay/internal/upstream"
	"github.com/resonance-ai/relay/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults only when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	// Set up structured logging
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Audit trail
	auditor, pool, err := newAuditor(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start audit trail", "sink", cfg.Audit.Sink, "error", err)
		os.Exit(1)
	}

	h := hub.New(logger.With("component", "hub"), m)

	sub := upstream.NewSubscriber(subscriberConfig(cfg.Upstream), logger,
		upstream.WithMetrics(m),
		upstream.OnStateChange(func(c upstream.StateChange) {
			h.PublishStatus(statusFor(c))
			ev := audit.Event{
				At:     c.At,
				Kind:   audit.KindUpstreamState,
				Remote: c.Address,
				Reason: c.To.String(),
			}
			if c.Err != nil {
				ev.Detail = c.Err.Error()
			}
			auditor.Record(ev)
		}),
	)

	policy, err := session.ParseOverflowPolicy(cfg.Sessions.OverflowPolicy)
	if err != nil {
		logger.Error("invalid sessions config", "error", err)
		os.Exit(1)
	}
	sessions := session.NewManager(sessionConfig(cfg, policy), h, logger,
		session.WithMetrics(m),
		session.WithAuditor(auditor),
	)

	srv := server.New(server.Config{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Instance:          cfg.Instance.ID,
		UpstreamAddress:   cfg.Upstream.Address,
		StaticDir:         cfg.Server.StaticDir,
		SocketPath:        cfg.Server.SocketPath,
		MetricsPath:       cfg.Metrics.Path,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}, sessions, sub, m, logger)

	if err := srv.Listen(); err != nil {
		logger.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	// The subscriber outlives ctx so shutdown can stop it after the
	// listener.
	if err := sub.Start(context.Background()); err != nil {
		logger.Error("failed to start upstream subscriber", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Serve)

	// Pump decoded telemetry into the hub until the subscriber stops.
	g.Go(func() error {
		for msg := range sub.Messages() {
			h.Publish(msg)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		return shutdown(cfg, srv, sub, sessions, auditor, pool, logger)
	})

	logger.Info("relay running",
		"instance_id", cfg.Instance.ID,
		"http", srv.Addr(),
		"upstream", cfg.Upstream.Address,
		"overflow_policy", policy,
		"audit", cfg.Audit.Sink,
		"metrics", cfg.Metrics.Enabled,
	)

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("relay stopped")
}

// shutdown stops components in dependency order: listener, upstream,
// sessions, audit, database.
func shutdown(
	cfg *config.RelayConfig,
	srv *server.Server,
	sub upstream.Subscriber,
	sessions *session.Manager,
	auditor audit.Auditor,
	pool *pgxpool.Pool,
	logger *slog.Logger,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := sub.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("upstream: %w", err))
	}
	if err := sessions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if w, ok := auditor.(*audit.Writer); ok {
		if err := w.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if pool != nil {
		pool.Close()
	}

	if err := errors.Join(errs...); err != nil {
		logger.Warn("unclean shutdown", "error", err)
	}
	return nil
}

// newAuditor builds the configured audit sink. pool is nil unless the sink
// is postgres.
func newAuditor(ctx context.Context, cfg *config.RelayConfig, logger *slog.Logger) (audit.Auditor, *pgxpool.Pool, error) {
	switch cfg.Audit.Sink {
	case "none":
		return audit.Nop{}, nil, nil

	case "postgres":
		db := cfg.Audit.Database
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err := database.Connect(ctx, db, cfg.Instance.ID)
		if err != nil {
			return nil, nil, err
		}

		w := audit.NewWriter(audit.WriterConfig{
			Instance:      cfg.Instance.ID,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			BufferSize:    cfg.Audit.BufferSize,
		}, pool, logger)

		if err := w.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		// The writer must keep flushing after ctx is cancelled.
		if err := w.Start(context.Background()); err != nil {
			pool.Close()
			return nil, nil, err
		}

		logger.Info("database connected")
		return w, pool, nil

	default:
		return audit.NewLogAuditor(logger), nil, nil
	}
}

func subscriberConfig(c config.UpstreamConfig) upstream.SubscriberConfig {
	readTimeout := c.ReadTimeout
	if readTimeout < 0 {
		readTimeout = 0
	}
	return upstream.SubscriberConfig{
		Address:           c.Address,
		Topic:             c.Topic,
		ReconnectBaseWait: c.ReconnectBaseDelay,
		ReconnectMaxWait:  c.ReconnectMaxDelay,
		ReadTimeout:       readTimeout,
		FrameBufferSize:   c.BufferSize,
		MessageBufferSize: c.BufferSize,
	}
}

func sessionConfig(cfg *config.RelayConfig, policy session.OverflowPolicy) session.Config {
	return session.Config{
		QueueSize:      cfg.Sessions.QueueSize,
		Overflow:       policy,
		WriteTimeout:   cfg.Server.WriteTimeout,
		PingInterval:   cfg.Sessions.PingInterval,
		PongTimeout:    cfg.Sessions.PongTimeout,
		ReadLimit:      cfg.Sessions.ReadLimit,
		MaxSessions:    cfg.Sessions.MaxSessions,
		AllowedOrigins: cfg.Sessions.AllowedOrigins,
	}
}

// statusFor converts a link transition to the viewer status event.
func statusFor(c upstream.StateChange) hub.Status {
	st := hub.Status{
		Upstream: hub.UpstreamDisconnected,
		State:    c.To.String(),
		Address:  c.Address,
		Since:    c.At,
	}
	if c.To == upstream.StateSubscribed {
		st.Upstream = hub.UpstreamConnected
	}
	if c.Err != nil {
		st.Error = c.Err.Error()
	}
	return st
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
