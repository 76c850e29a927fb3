package config

import "time"

// Config is the root configuration shared by collabd and collabctl.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Client   ClientConfig   `yaml:"client"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the websocket endpoint settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	Path         string        `yaml:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"` // Peers silent for three intervals are dropped
	ReadLimit    int64         `yaml:"read_limit"`
	SendBuffer   int           `yaml:"send_buffer"`
	AuthSecret   string        `yaml:"auth_secret"` // Shared with the gateway that signs identity headers
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
}

// SessionConfig holds per-session lease, sweep and teardown timing.
type SessionConfig struct {
	LockLease       time.Duration `yaml:"lock_lease"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	IdleGrace       time.Duration `yaml:"idle_grace"`
	InboxSize       int           `yaml:"inbox_size"`
}

// ClientConfig holds connection manager settings for collabctl.
type ClientConfig struct {
	URL                  string        `yaml:"url"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ResyncTimeout        time.Duration `yaml:"resync_timeout"`
	EventBuffer          int           `yaml:"event_buffer"`
}

// JournalConfig holds the edit journal settings. The journal is optional.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings. Metrics are served on
// the server listener.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
}
