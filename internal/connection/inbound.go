package connection

import (
	"github.com/rickgao/schedule-sync/internal/model"
)

// inbound applies server frames to the manager's caches and turns them into
// caller events. Frames from a link that is no longer current are dropped.
type inbound struct {
	m *manager
	l *link
}

// locked runs f under the manager lock if l is still the live link.
func (h *inbound) locked(f func(m *manager)) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.m.link != h.l {
		return
	}
	f(h.m)
}

func (h *inbound) relay(t EventType, msg model.Message) {
	h.locked(func(m *manager) {
		m.emitLocked(Event{Type: t, Message: msg})
	})
}

func (h *inbound) OnPresence(msg model.Message, d model.PresenceData) {
	h.locked(func(m *manager) {
		self, hasSelf := m.roster[m.cfg.Identity.UserID]
		m.roster = make(map[string]model.Collaborator, len(d.Collaborators)+1)
		for _, c := range d.Collaborators {
			m.roster[c.UserID] = c
		}
		if hasSelf {
			m.roster[self.UserID] = self
		}
		m.emitLocked(Event{Type: EventCollaborators, Collaborators: m.rosterLocked()})
	})
}

func (h *inbound) OnSync(msg model.Message, d model.SyncData) {
	h.locked(func(m *manager) {
		m.roster = make(map[string]model.Collaborator, len(d.Collaborators))
		for _, c := range d.Collaborators {
			m.roster[c.UserID] = c
		}
		m.locks = make(map[string]model.ItemLock, len(d.Locks))
		for _, l := range d.Locks {
			m.locks[l.ItemID] = l
		}
		m.emitLocked(Event{Type: EventCollaborators, Collaborators: m.rosterLocked()})
		m.emitLocked(Event{Type: EventLocks, Locks: m.locksLocked()})
	})
	h.l.syncOnce.Do(func() { close(h.l.synced) })
}

func (h *inbound) OnCursor(msg model.Message, d model.CursorData) {
	h.locked(func(m *manager) {
		if c, ok := m.roster[msg.UserID]; ok {
			c.Cursor = &model.Point{X: d.X, Y: d.Y}
			c.LastSeen = msg.Timestamp
			m.roster[msg.UserID] = c
		}
		m.emitLocked(Event{Type: EventCursor, Message: msg})
	})
}

func (h *inbound) OnSelection(msg model.Message, d model.SelectionData) {
	h.locked(func(m *manager) {
		if c, ok := m.roster[msg.UserID]; ok {
			c.SelectedItemID = d.ItemID
			c.LastSeen = msg.Timestamp
			m.roster[msg.UserID] = c
		}
		m.emitLocked(Event{Type: EventSelection, Message: msg})
	})
}

func (h *inbound) OnTyping(msg model.Message, d model.TypingData) {
	h.locked(func(m *manager) {
		if c, ok := m.roster[msg.UserID]; ok {
			c.IsTyping = d.IsTyping
			c.LastSeen = msg.Timestamp
			m.roster[msg.UserID] = c
		}
		m.emitLocked(Event{Type: EventTyping, Message: msg})
	})
}

func (h *inbound) OnEdit(msg model.Message, d model.EditData) {
	h.relay(EventEdit, msg)
}

func (h *inbound) OnComment(msg model.Message, d model.CommentData) {
	h.relay(EventComment, msg)
}

func (h *inbound) OnApproval(msg model.Message, d model.ApprovalData) {
	h.relay(EventApproval, msg)
}

func (h *inbound) OnLock(msg model.Message, d model.LockResult) {
	h.locked(func(m *manager) {
		m.emitLocked(Event{Type: EventLock, Message: msg})
		if !d.Granted {
			return
		}
		m.locks[d.ItemID] = d.Lock()
		m.emitLocked(Event{Type: EventLocks, Locks: m.locksLocked()})
	})
}

func (h *inbound) OnUnlock(msg model.Message, d model.UnlockNotice) {
	h.locked(func(m *manager) {
		if l, ok := m.locks[d.ItemID]; ok && (d.HolderID == "" || l.HolderID == d.HolderID) {
			delete(m.locks, d.ItemID)
		}
		m.emitLocked(Event{Type: EventUnlock, Message: msg})
		m.emitLocked(Event{Type: EventLocks, Locks: m.locksLocked()})
	})
}

func (h *inbound) OnPing(model.Message) {}
