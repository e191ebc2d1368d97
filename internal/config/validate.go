package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.SocketPath, "/") {
		return fmt.Errorf("server.socket_path must start with /, got %q", c.Server.SocketPath)
	}

	if err := ValidateEndpoint(c.Upstream.Address); err != nil {
		return fmt.Errorf("upstream.address: %w", err)
	}
	if c.Upstream.ReconnectBaseDelay <= 0 {
		return errors.New("upstream.reconnect_base_delay must be > 0")
	}
	if c.Upstream.ReconnectMaxDelay < c.Upstream.ReconnectBaseDelay {
		return fmt.Errorf("upstream.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Upstream.ReconnectMaxDelay, c.Upstream.ReconnectBaseDelay)
	}
	if c.Upstream.BufferSize < 1 {
		return errors.New("upstream.buffer_size must be >= 1")
	}

	if c.Sessions.QueueSize < 1 {
		return errors.New("sessions.queue_size must be >= 1")
	}
	switch c.Sessions.OverflowPolicy {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("sessions.overflow_policy must be drop_oldest or disconnect, got %q", c.Sessions.OverflowPolicy)
	}
	if c.Sessions.PingInterval > 0 && c.Sessions.PongTimeout > 0 && c.Sessions.PongTimeout <= c.Sessions.PingInterval {
		return fmt.Errorf("sessions.pong_timeout (%s) must exceed ping_interval (%s)",
			c.Sessions.PongTimeout, c.Sessions.PingInterval)
	}
	if c.Sessions.MaxSessions < 0 {
		return errors.New("sessions.max_sessions must be >= 0")
	}

	switch c.Audit.Sink {
	case "log", "none":
	case "postgres":
		if err := c.Audit.Database.validate("audit.database"); err != nil {
			return err
		}
		if c.Audit.BatchSize < 1 {
			return errors.New("audit.batch_size must be >= 1")
		}
	default:
		return fmt.Errorf("audit.sink must be log, postgres or none, got %q", c.Audit.Sink)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ValidateEndpoint checks a ZeroMQ endpoint the relay can dial:
// tcp://host:port, ipc://path or inproc://name.
func ValidateEndpoint(endpoint string) error {
	scheme, addr, ok := strings.Cut(endpoint, "://")
	if !ok {
		return fmt.Errorf("%q: missing transport (tcp://, ipc:// or inproc://)", endpoint)
	}
	if addr == "" {
		return fmt.Errorf("%q: missing address", endpoint)
	}

	switch scheme {
	case "tcp":
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("%q: %w", endpoint, err)
		}
		if host == "" || host == "*" {
			return fmt.Errorf("%q: a host is required to connect", endpoint)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("%q: invalid port %q", endpoint, port)
		}
	case "ipc", "inproc":
	default:
		return fmt.Errorf("%q: unsupported transport %q", endpoint, scheme)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
