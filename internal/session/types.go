package session

import (
	"errors"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/model"
)

var (
	ErrRegistryStopped = errors.New("session: registry stopped")
	ErrSessionClosed   = errors.New("session: session closed")
	ErrEmptySessionID  = errors.New("session: session id is required")
)

// Config holds session tuning.
type Config struct {
	LockLease       time.Duration // Default: 5m
	SweepInterval   time.Duration // Default: 15s
	LivenessTimeout time.Duration // Default: 90s
	IdleGrace       time.Duration // Default: 30s
	InboxSize       int           // Default: 1024
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		LockLease:       5 * time.Minute,
		SweepInterval:   15 * time.Second,
		LivenessTimeout: 90 * time.Second,
		IdleGrace:       30 * time.Second,
		InboxSize:       1024,
	}
}

// Conn is the server's handle on one attached client.
type Conn interface {
	// ID is unique per physical connection.
	ID() string
	// Identity is the authenticated caller.
	Identity() identity.Identity
	// Send queues a frame without blocking. It returns false once the
	// connection is closed.
	Send(data []byte) bool
	// Close tears the connection down. It must be safe to call twice.
	Close()
	// Supersede closes the connection telling the peer that a newer
	// connection for the same user took its place.
	Supersede()
}

// Edit is a relayed edit handed upward for persistence.
type Edit struct {
	ID         string
	SessionID  string
	ItemID     string
	UserID     string
	UserName   string
	Changes    map[string]any
	ClientTime time.Time
	ReceivedAt time.Time
}

// EditSink receives every relayed edit. HandleEdit runs on the session
// goroutine and must not block.
type EditSink interface {
	HandleEdit(e Edit)
}

// Snapshot is a point-in-time copy of one session's state.
type Snapshot struct {
	ID            string
	Connections   int
	Collaborators []model.Collaborator
	Locks         []model.ItemLock
}

// Stats contains registry statistics.
type Stats struct {
	Sessions    int
	Idle        int
	Connections int
}
