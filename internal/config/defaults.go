package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr           = ":8090"
	DefaultServerPath           = "/ws"
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultSendBuffer           = 256
	DefaultMaxClockSkew         = 2 * time.Minute
	DefaultLockLease            = 5 * time.Minute
	DefaultSweepInterval        = 15 * time.Second
	DefaultLivenessTimeout      = 90 * time.Second
	DefaultIdleGrace            = 30 * time.Second
	DefaultInboxSize            = 1024
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultResyncTimeout        = 5 * time.Second
	DefaultEventBuffer          = 1024
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
)

// ApplyDefaults fills every zero-valued optional field.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Server.MaxClockSkew == 0 {
		c.Server.MaxClockSkew = DefaultMaxClockSkew
	}

	// Session defaults
	if c.Session.LockLease == 0 {
		c.Session.LockLease = DefaultLockLease
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = DefaultSweepInterval
	}
	if c.Session.LivenessTimeout == 0 {
		c.Session.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.Session.IdleGrace == 0 {
		c.Session.IdleGrace = DefaultIdleGrace
	}
	if c.Session.InboxSize == 0 {
		c.Session.InboxSize = DefaultInboxSize
	}

	// Client defaults
	if c.Client.HeartbeatInterval == 0 {
		c.Client.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Client.ReconnectBaseDelay == 0 {
		c.Client.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Client.MaxReconnectAttempts == 0 {
		c.Client.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Client.ResyncTimeout == 0 {
		c.Client.ResyncTimeout = DefaultResyncTimeout
	}
	if c.Client.EventBuffer == 0 {
		c.Client.EventBuffer = DefaultEventBuffer
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
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
