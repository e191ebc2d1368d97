package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID         = "relay"
	DefaultPort               = 3000
	DefaultStaticDir          = "web/public"
	DefaultSocketPath         = "/socket"
	DefaultReadHeaderTimeout  = 10 * time.Second
	DefaultWriteTimeout       = 10 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultUpstreamAddress    = "tcp://127.0.0.1:5557"
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultReadTimeout        = 30 * time.Second
	DefaultUpstreamBuffer     = 256
	DefaultQueueSize          = 64
	DefaultOverflowPolicy     = "drop_oldest"
	DefaultPingInterval       = 25 * time.Second
	DefaultPongTimeout        = 60 * time.Second
	DefaultReadLimit          = 4096
	DefaultAuditSink          = "log"
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 5 * time.Second
	DefaultAuditBuffer        = 1024
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

func (c *RelayConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = DefaultStaticDir
	}
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = DefaultSocketPath
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Upstream defaults. A negative read_timeout disables the watchdog.
	if c.Upstream.Address == "" {
		c.Upstream.Address = DefaultUpstreamAddress
	}
	if c.Upstream.ReconnectBaseDelay == 0 {
		c.Upstream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Upstream.ReconnectMaxDelay == 0 {
		c.Upstream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Upstream.ReadTimeout == 0 {
		c.Upstream.ReadTimeout = DefaultReadTimeout
	}
	if c.Upstream.BufferSize == 0 {
		c.Upstream.BufferSize = DefaultUpstreamBuffer
	}

	// Sessions defaults
	if c.Sessions.QueueSize == 0 {
		c.Sessions.QueueSize = DefaultQueueSize
	}
	if c.Sessions.OverflowPolicy == "" {
		c.Sessions.OverflowPolicy = DefaultOverflowPolicy
	}
	if c.Sessions.PingInterval == 0 {
		c.Sessions.PingInterval = DefaultPingInterval
	}
	if c.Sessions.PongTimeout == 0 {
		c.Sessions.PongTimeout = DefaultPongTimeout
	}
	if c.Sessions.ReadLimit == 0 {
		c.Sessions.ReadLimit = DefaultReadLimit
	}

	// Audit defaults
	if c.Audit.Sink == "" {
		c.Audit.Sink = DefaultAuditSink
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = DefaultBatchSize
	}
	if c.Audit.FlushInterval == 0 {
		c.Audit.FlushInterval = DefaultFlushInterval
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultAuditBuffer
	}
	applyDBDefaults(&c.Audit.Database)

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
