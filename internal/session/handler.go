package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/locks"
	"github.com/rickgao/schedule-sync/internal/model"
)

// inbound applies one routed frame from member m. It runs on the session
// goroutine. Every relayed frame carries the connection's authenticated
// identity, never the one the client wrote.
type inbound struct {
	s   *Session
	m   *member
	now time.Time
}

func (h *inbound) stamp(msg model.Message) model.Message {
	return msg.WithSender(h.m.id)
}

func (h *inbound) OnPresence(msg model.Message, d model.PresenceData) {
	s := h.s
	if s.presence.Announce(h.m.id, d.Cursor, d.SelectedItemID, h.now) {
		s.logger.Info("collaborator joined", "user", h.m.id.UserID)
	}
	h.m.announced = true
	s.broadcastRoster(h.m, h.now)
}

func (h *inbound) OnCursor(msg model.Message, d model.CursorData) {
	h.s.presence.UpdateCursor(h.m.id.UserID, model.Point{X: d.X, Y: d.Y}, h.now)
	h.s.broadcast(h.stamp(msg), h.m)
}

func (h *inbound) OnSelection(msg model.Message, d model.SelectionData) {
	h.s.presence.UpdateSelection(h.m.id.UserID, d.ItemID, h.now)
	h.s.broadcast(h.stamp(msg), h.m)
}

func (h *inbound) OnTyping(msg model.Message, d model.TypingData) {
	h.s.presence.SetTyping(h.m.id.UserID, d.IsTyping, h.now)
	h.s.broadcast(h.stamp(msg), h.m)
}

func (h *inbound) OnEdit(msg model.Message, d model.EditData) {
	s := h.s
	s.presence.Touch(h.m.id.UserID, h.now)
	s.locks.Renew(d.ItemID, h.m.id.UserID, h.now)
	s.broadcast(h.stamp(msg), h.m)

	if s.reg.sink != nil {
		s.reg.sink.HandleEdit(Edit{
			ID:         uuid.NewString(),
			SessionID:  s.id,
			ItemID:     d.ItemID,
			UserID:     h.m.id.UserID,
			UserName:   h.m.id.DisplayName(),
			Changes:    d.Changes,
			ClientTime: msg.Timestamp.Time,
			ReceivedAt: h.now,
		})
	}
}

func (h *inbound) OnComment(msg model.Message, d model.CommentData) {
	h.s.presence.Touch(h.m.id.UserID, h.now)
	h.s.broadcast(h.stamp(msg), h.m)
}

func (h *inbound) OnApproval(msg model.Message, d model.ApprovalData) {
	h.s.presence.Touch(h.m.id.UserID, h.now)
	h.s.broadcast(h.stamp(msg), h.m)
}

func (h *inbound) OnLock(msg model.Message, d model.LockResult) {
	s := h.s
	s.presence.Touch(h.m.id.UserID, h.now)

	res := s.locks.Request(d.ItemID, h.m.id, h.now)
	s.reg.metrics.LockRequest(res.Granted)
	if res.Expired != nil {
		s.announceRelease(*res.Expired, model.ReleaseExpired, h.now)
	}

	out, err := model.NewMessage(model.TypeLock, identity.System, h.now, model.LockResult{
		ItemID:     res.Lock.ItemID,
		Granted:    res.Granted,
		HolderID:   res.Lock.HolderID,
		HolderName: res.Lock.HolderName,
		AcquiredAt: res.Lock.AcquiredAt,
		ExpiresAt:  res.Lock.ExpiresAt,
	})
	if err != nil {
		s.logger.Error("failed to build lock result", "error", err)
		return
	}

	if !res.Granted {
		s.send(h.m, out)
		s.logger.Debug("lock denied", "item", d.ItemID, "user", h.m.id.UserID, "holder", res.Lock.HolderID)
		return
	}
	s.broadcast(out, nil)
	s.logger.Debug("lock granted", "item", d.ItemID, "user", h.m.id.UserID)
}

func (h *inbound) OnUnlock(msg model.Message, d model.UnlockNotice) {
	s := h.s
	s.presence.Touch(h.m.id.UserID, h.now)

	l, err := s.locks.Release(d.ItemID, h.m.id.UserID)
	switch {
	case errors.Is(err, locks.ErrNotLocked), errors.Is(err, locks.ErrNotHolder):
		s.logger.Debug("ignoring unlock", "item", d.ItemID, "user", h.m.id.UserID, "error", err)
		return
	case err != nil:
		s.logger.Warn("unlock failed", "item", d.ItemID, "error", err)
		return
	}
	s.announceRelease(l, model.ReleaseExplicit, h.now)
}

func (h *inbound) OnSync(msg model.Message, d model.SyncData) {
	s := h.s
	s.presence.Touch(h.m.id.UserID, h.now)
	for _, l := range s.locks.Sweep(h.now) {
		s.announceRelease(l, model.ReleaseExpired, h.now)
	}

	out, err := model.NewMessage(model.TypeSync, identity.System, h.now, model.SyncData{
		Collaborators: s.presence.List(),
		Locks:         s.locks.Snapshot(),
	})
	if err != nil {
		s.logger.Error("failed to build sync response", "error", err)
		return
	}
	s.send(h.m, out)
}

func (h *inbound) OnPing(msg model.Message) {
	h.s.presence.Touch(h.m.id.UserID, h.now)
}
