package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/model"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrStaleConnection   = errors.New("connection stale (no pong)")
	ErrTimeout           = errors.New("operation timeout")
	ErrResyncTimeout     = fmt.Errorf("resync: %w", ErrTimeout)
	ErrAlreadyClosed     = errors.New("already closed")
	ErrAlreadyConnected  = errors.New("already connected or connecting")
	ErrGaveUp            = errors.New("reconnect attempts exhausted")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDisconnected      = errors.New("disconnected by caller")
	ErrEmptySessionID    = errors.New("session id is required")
	ErrSuperseded        = errors.New("replaced by a newer connection for the same user")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // ws:// or wss:// endpoint including the session query
	Header       http.Header   // Identity headers sent with the handshake
	PingInterval time.Duration // Transport-level ping interval
	PingTimeout  time.Duration // Max time without a pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1024,
	}
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	URL                  string            // Server endpoint, e.g. ws://localhost:8090/ws
	Identity             identity.Identity // Who this manager speaks for
	AuthSecret           string            // Shared secret for identity headers; empty sends them unsigned
	HeartbeatInterval    time.Duration     // Default: 30s
	ReconnectBaseDelay   time.Duration     // Default: 1s
	MaxReconnectAttempts int               // Default: 5
	ResyncTimeout        time.Duration     // Default: 5s
	EventBuffer          int               // Default: 1024
	QueueSize            int               // Initial outbound queue capacity. Default: 64
	Client               ClientConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		ResyncTimeout:        5 * time.Second,
		EventBuffer:          1024,
		QueueSize:            64,
		Client:               DefaultClientConfig(),
	}
}

// EventType names what an Event reports.
type EventType string

const (
	EventCursor          EventType = "cursor"
	EventSelection       EventType = "selection"
	EventEdit            EventType = "edit"
	EventComment         EventType = "comment"
	EventLock            EventType = "lock"
	EventUnlock          EventType = "unlock"
	EventTyping          EventType = "typing"
	EventApproval        EventType = "approval"
	EventCollaborators   EventType = "collaborators"
	EventLocks           EventType = "locks"
	EventDisconnect      EventType = "disconnect"
	EventReconnect       EventType = "reconnect"
	EventReconnectFailed EventType = "reconnect_failed"
	EventError           EventType = "error"
)

// Event is delivered to the caller through Manager.Events.
type Event struct {
	Type EventType

	// Message is the frame behind cursor, selection, edit, comment, lock,
	// unlock, typing and approval events.
	Message model.Message

	// Snapshots for collaborators and locks events.
	Collaborators []model.Collaborator
	Locks         []model.ItemLock

	// Err is set on disconnect (nil when the caller disconnected),
	// reconnect_failed and error events.
	Err error
}
