package model

// CursorData is the payload of a cursor frame.
type CursorData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectionData is the payload of a selection frame. A nil ItemID clears
// the selection.
type SelectionData struct {
	ItemID *string `json:"itemId"`
}

// EditData is an edit intent. Changes is relayed without interpretation.
type EditData struct {
	ItemID  string         `json:"itemId"`
	Changes map[string]any `json:"changes"`
}

// CommentData is the payload of a comment frame.
type CommentData struct {
	CommentID string `json:"commentId"`
	ItemID    string `json:"itemId"`
	Text      string `json:"text"`
	ParentID  string `json:"parentId,omitempty"`
}

// TypingData is the payload of a typing frame.
type TypingData struct {
	IsTyping bool    `json:"isTyping"`
	ItemID   *string `json:"itemId,omitempty"`
}

// Approval statuses. The sync layer relays them without checking transitions.
const (
	ApprovalPending          = "pending"
	ApprovalApproved         = "approved"
	ApprovalRejected         = "rejected"
	ApprovalChangesRequested = "changes_requested"
)

// ApprovalData is the payload of an approval frame.
type ApprovalData struct {
	Status   string `json:"status"`
	Comments string `json:"comments,omitempty"`
}

// LockRequest is the client->server payload of lock and unlock frames.
type LockRequest struct {
	ItemID string `json:"itemId"`
}

// LockResult is the server->client payload of a lock frame.
type LockResult struct {
	ItemID     string    `json:"itemId"`
	Granted    bool      `json:"granted"`
	HolderID   string    `json:"holderId"`
	HolderName string    `json:"holderName"`
	AcquiredAt Timestamp `json:"acquiredAt"`
	ExpiresAt  Timestamp `json:"expiresAt"`
}

// Lock returns the lease described by the result.
func (r LockResult) Lock() ItemLock {
	return ItemLock{
		ItemID:     r.ItemID,
		HolderID:   r.HolderID,
		HolderName: r.HolderName,
		AcquiredAt: r.AcquiredAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

// Reasons a lock was released.
const (
	ReleaseExplicit   = "released"
	ReleaseDisconnect = "disconnect"
	ReleaseExpired    = "expired"
)

// UnlockNotice is the server->client payload of an unlock frame.
type UnlockNotice struct {
	ItemID   string `json:"itemId"`
	HolderID string `json:"holderId"`
	Reason   string `json:"reason"`
}

// PresenceData is sent by clients as an announcement (Collaborators empty)
// and by the server as a roster snapshot.
type PresenceData struct {
	Cursor         *Point         `json:"cursor,omitempty"`
	SelectedItemID *string        `json:"selectedItemId,omitempty"`
	Collaborators  []Collaborator `json:"collaborators,omitempty"`
}

// SyncData is empty on request and carries the full session state on response.
type SyncData struct {
	Collaborators []Collaborator `json:"collaborators"`
	Locks         []ItemLock     `json:"locks"`
}
