package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/schedule-sync/internal/identity"
)

// MessageType tags a frame. The set is closed; see Types.
type MessageType string

const (
	TypeCursor    MessageType = "cursor"
	TypeSelection MessageType = "selection"
	TypeEdit      MessageType = "edit"
	TypeComment   MessageType = "comment"
	TypeLock      MessageType = "lock"
	TypeUnlock    MessageType = "unlock"
	TypeTyping    MessageType = "typing"
	TypeApproval  MessageType = "approval"
	TypePresence  MessageType = "presence"
	TypeSync      MessageType = "sync"
	TypePing      MessageType = "ping"
)

// CloseSuperseded is the websocket close code sent to a connection that a
// newer connection from the same user in the same session replaced. Clients
// must not reconnect automatically after it.
const CloseSuperseded = 4001

// Types lists every message type in wire order of the protocol description.
var Types = []MessageType{
	TypeCursor, TypeSelection, TypeEdit, TypeComment, TypeLock, TypeUnlock,
	TypeTyping, TypeApproval, TypePresence, TypeSync, TypePing,
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Message is the wire envelope shared by every frame.
type Message struct {
	Type      MessageType     `json:"type"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	UserRole  string          `json:"userRole"`
	Timestamp Timestamp       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// emptyData is sent for frames built without a payload. Only ping may go
// out with no data at all.
var emptyData = json.RawMessage(`{}`)

// NewMessage builds an envelope for the sender, encoding payload as data.
// A nil payload becomes an empty object, except on ping frames where data
// is left out.
func NewMessage(t MessageType, from identity.Identity, at time.Time, payload any) (Message, error) {
	msg := Message{
		Type:      t,
		UserID:    from.UserID,
		UserName:  from.Name,
		UserRole:  from.Role,
		Timestamp: Timestamp{at},
	}
	switch {
	case payload != nil:
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		msg.Data = data
	case t != TypePing:
		msg.Data = append(json.RawMessage(nil), emptyData...)
	}
	return msg, nil
}

// Sender returns the identity carried in the envelope.
func (m Message) Sender() identity.Identity {
	return identity.Identity{UserID: m.UserID, Name: m.UserName, Role: m.UserRole}
}

// WithSender returns a copy of m whose envelope identity is replaced by id.
func (m Message) WithSender(id identity.Identity) Message {
	m.UserID = id.UserID
	m.UserName = id.Name
	m.UserRole = id.Role
	return m
}

// Encode marshals the envelope.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals the envelope's data into T. Missing data decodes to the
// zero value.
func Decode[T any](m Message) (T, error) {
	var v T
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return v, nil
}

// Point is a cursor position in document coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Collaborator is one user's live presence in a session.
type Collaborator struct {
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	Role           string    `json:"userRole"`
	Cursor         *Point    `json:"cursor,omitempty"`
	SelectedItemID *string   `json:"selectedItemId,omitempty"`
	IsTyping       bool      `json:"isTyping"`
	Color          string    `json:"color"`
	LastSeen       Timestamp `json:"lastSeen"`
}

// ItemLock is an advisory lease on one item.
type ItemLock struct {
	ItemID     string    `json:"itemId"`
	HolderID   string    `json:"holderId"`
	HolderName string    `json:"holderName"`
	AcquiredAt Timestamp `json:"acquiredAt"`
	ExpiresAt  Timestamp `json:"expiresAt"`
}

// Expired reports whether the lease has lapsed at now.
func (l ItemLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt.Time)
}
