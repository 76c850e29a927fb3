package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 {
		return errors.New("server.ping_interval must be > 0")
	}
	if c.Server.ReadLimit < 1 {
		return errors.New("server.read_limit must be >= 1")
	}
	if c.Server.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}

	if c.Session.LockLease <= 0 {
		return errors.New("session.lock_lease must be > 0")
	}
	if c.Session.SweepInterval <= 0 {
		return errors.New("session.sweep_interval must be > 0")
	}
	if c.Session.LivenessTimeout <= 0 {
		return errors.New("session.liveness_timeout must be > 0")
	}
	if c.Session.LivenessTimeout < c.Client.HeartbeatInterval {
		return fmt.Errorf("session.liveness_timeout (%s) must be >= client.heartbeat_interval (%s)",
			c.Session.LivenessTimeout, c.Client.HeartbeatInterval)
	}
	if c.Session.IdleGrace < 0 {
		return errors.New("session.idle_grace must be >= 0")
	}
	if c.Session.InboxSize < 1 {
		return errors.New("session.inbox_size must be >= 1")
	}

	if c.Client.HeartbeatInterval <= 0 {
		return errors.New("client.heartbeat_interval must be > 0")
	}
	if c.Client.ReconnectBaseDelay <= 0 {
		return errors.New("client.reconnect_base_delay must be > 0")
	}
	if c.Client.MaxReconnectAttempts < 1 {
		return errors.New("client.max_reconnect_attempts must be >= 1")
	}
	if c.Client.ReconnectBaseDelay > time.Duration(math.MaxInt64)>>uint(c.Client.MaxReconnectAttempts) {
		return fmt.Errorf("client.max_reconnect_attempts (%d) overflows the backoff for client.reconnect_base_delay (%s)",
			c.Client.MaxReconnectAttempts, c.Client.ReconnectBaseDelay)
	}
	if c.Client.ResyncTimeout <= 0 {
		return errors.New("client.resync_timeout must be > 0")
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == c.Server.Path {
		return fmt.Errorf("metrics.path must start with / and differ from server.path, got %q", c.Metrics.Path)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
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

// ParseLevel maps log.level to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", level)
	}
}
