package router

import (
	"errors"

	"github.com/rickgao/schedule-sync/internal/model"
)

var (
	ErrMalformed      = errors.New("router: malformed frame")
	ErrUnknownType    = errors.New("router: unknown message type")
	ErrInvalidPayload = errors.New("router: invalid payload")
)

// Handler receives one call per classified frame. Adding a message type
// means adding a method here, so every handler must decide what to do with
// it. Embed Ignore to accept the new type silently.
type Handler interface {
	OnCursor(msg model.Message, data model.CursorData)
	OnSelection(msg model.Message, data model.SelectionData)
	OnEdit(msg model.Message, data model.EditData)
	OnComment(msg model.Message, data model.CommentData)
	// OnLock carries a request (only ItemID set) or a server result.
	OnLock(msg model.Message, data model.LockResult)
	// OnUnlock carries a release request (only ItemID set) or a server notice.
	OnUnlock(msg model.Message, data model.UnlockNotice)
	OnTyping(msg model.Message, data model.TypingData)
	OnApproval(msg model.Message, data model.ApprovalData)
	OnPresence(msg model.Message, data model.PresenceData)
	OnSync(msg model.Message, data model.SyncData)
	OnPing(msg model.Message)
}

// Ignore implements Handler with no-ops.
type Ignore struct{}

func (Ignore) OnCursor(model.Message, model.CursorData)       {}
func (Ignore) OnSelection(model.Message, model.SelectionData) {}
func (Ignore) OnEdit(model.Message, model.EditData)           {}
func (Ignore) OnComment(model.Message, model.CommentData)     {}
func (Ignore) OnLock(model.Message, model.LockResult)         {}
func (Ignore) OnUnlock(model.Message, model.UnlockNotice)     {}
func (Ignore) OnTyping(model.Message, model.TypingData)       {}
func (Ignore) OnApproval(model.Message, model.ApprovalData)   {}
func (Ignore) OnPresence(model.Message, model.PresenceData)   {}
func (Ignore) OnSync(model.Message, model.SyncData)           {}
func (Ignore) OnPing(model.Message)                           {}

// Stats contains runtime statistics.
type Stats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
	InvalidPayloads  int64
}
