package config

import "time"

// RelayConfig is the top-level configuration.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Sessions SessionsConfig `yaml:"sessions"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	StaticDir         string        `yaml:"static_dir"`
	SocketPath        string        `yaml:"socket_path"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig configures the subscription to the inference publisher.
type UpstreamConfig struct {
	Address            string        `yaml:"address"`
	Topic              string        `yaml:"topic"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	ReadTimeout        time.Duration `yaml:"read_timeout"` // < 0 disables
	BufferSize         int           `yaml:"buffer_size"`
}

// SessionsConfig configures viewer sessions.
type SessionsConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	OverflowPolicy string        `yaml:"overflow_policy"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	ReadLimit      int64         `yaml:"read_limit"`
	MaxSessions    int           `yaml:"max_sessions"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// AuditConfig configures the lifecycle audit trail.
type AuditConfig struct {
	Sink          string        `yaml:"sink"` // log, postgres or none
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds connection settings for a single database.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
