package session

import (
	"log/slog"
	"time"

	"github.com/rickgao/schedule-sync/internal/clock"
	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/locks"
	"github.com/rickgao/schedule-sync/internal/model"
	"github.com/rickgao/schedule-sync/internal/presence"
)

// member is an attached connection as seen by the session goroutine.
type member struct {
	conn      Conn
	id        identity.Identity
	announced bool
	lastSeen  time.Time
}

// Session is one document's live collaboration room.
type Session struct {
	id     string
	reg    *Registry
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	// refs counts attached connections and epoch changes on every attach
	// and every time the session empties; both guarded by reg.mu.
	refs  int
	epoch uint64

	// Owned by the run goroutine.
	conns      map[string]*member
	byUser     map[string]*member
	presence   *presence.Tracker
	locks      *locks.Table
	sweepTimer clock.Timer
}

func newSession(id string, r *Registry) *Session {
	return &Session{
		id:       id,
		reg:      r,
		cfg:      r.cfg,
		clock:    r.clock,
		logger:   r.logger.With("session", id),
		inbox:    make(chan func(), r.cfg.InboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		conns:    make(map[string]*member),
		byUser:   make(map[string]*member),
		presence: presence.New(),
		locks:    locks.New(r.cfg.LockLease),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Dispatch queues a raw frame received on conn. Frames are processed in the
// order Dispatch is called across all connections.
func (s *Session) Dispatch(conn Conn, data []byte) bool {
	return s.post(func() { s.handleFrame(conn, data) })
}

// Detach removes conn, its presence and its locks. Detaching a connection
// that was already superseded or removed is a no-op.
func (s *Session) Detach(conn Conn) {
	s.post(func() { s.remove(conn.ID(), "detached") })
}

// Sweep runs one expiry and liveness pass and waits for it.
func (s *Session) Sweep() {
	s.call(s.sweep)
}

// Snapshot returns a copy of the session's state. Because it goes through
// the inbox, it also reflects every frame dispatched before the call.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	if !s.call(func() {
		snap = Snapshot{
			ID:            s.id,
			Connections:   len(s.conns),
			Collaborators: s.presence.List(),
			Locks:         s.locks.Snapshot(),
		}
	}) {
		return Snapshot{ID: s.id}
	}
	return snap
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

// post enqueues fn for the session goroutine. It returns false once the
// session has shut down.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// call posts fn and waits for it to run.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.post(func() { fn(); close(ran) }) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *Session) shutdown() {
	// Work accepted before the stop still runs so attached connections are
	// known and get closed below.
	for drained := false; !drained; {
		select {
		case fn := <-s.inbox:
			fn()
		default:
			drained = true
		}
	}
	if s.sweepTimer != nil {
		s.sweepTimer.Stop()
	}
	for id, m := range s.conns {
		m.conn.Close()
		delete(s.conns, id)
		s.reg.metrics.ConnDetached()
	}
	s.byUser = make(map[string]*member)
	s.logger.Info("session closed")
}

func (s *Session) armSweep() {
	s.sweepTimer = s.clock.AfterFunc(s.cfg.SweepInterval, func() {
		s.post(func() {
			s.sweep()
			s.armSweep()
		})
	})
}

func (s *Session) attach(conn Conn) {
	now := s.clock.Now()
	id := conn.Identity()

	if prev, ok := s.byUser[id.UserID]; ok && prev.conn.ID() != conn.ID() {
		// Same user on a new connection: the old one goes away but presence
		// and locks stay with the user.
		delete(s.conns, prev.conn.ID())
		prev.conn.Supersede()
		s.reg.release(s)
		s.logger.Info("connection superseded", "user", id.UserID, "old_conn", prev.conn.ID(), "conn", conn.ID())
	}

	m := &member{
		conn:      conn,
		id:        id,
		announced: s.presence.Has(id.UserID),
		lastSeen:  now,
	}
	s.conns[conn.ID()] = m
	s.byUser[id.UserID] = m
	s.logger.Info("connection attached", "user", id.UserID, "conn", conn.ID(), "connections", len(s.conns))
}

func (s *Session) remove(connID, why string) {
	m, ok := s.conns[connID]
	if !ok {
		return
	}
	delete(s.conns, connID)
	if s.byUser[m.id.UserID] == m {
		delete(s.byUser, m.id.UserID)
	}
	m.conn.Close()

	now := s.clock.Now()
	for _, l := range s.locks.ReleaseAll(m.id.UserID) {
		s.announceRelease(l, model.ReleaseDisconnect, now)
	}
	if s.presence.Remove(m.id.UserID) {
		s.broadcastRoster(nil, now)
	}

	s.logger.Info("connection detached", "user", m.id.UserID, "conn", connID, "reason", why, "connections", len(s.conns))
	s.reg.release(s)
}

func (s *Session) handleFrame(conn Conn, data []byte) {
	m, ok := s.conns[conn.ID()]
	if !ok {
		return
	}
	m.lastSeen = s.clock.Now()
	// Errors are logged and counted by the router; the frame is dropped.
	_ = s.reg.router.Route(data, &inbound{s: s, m: m, now: m.lastSeen})
}

func (s *Session) sweep() {
	now := s.clock.Now()

	for _, l := range s.locks.Sweep(now) {
		s.announceRelease(l, model.ReleaseExpired, now)
	}

	cutoff := now.Add(-s.cfg.LivenessTimeout)
	var stale []string
	for _, userID := range s.presence.Stale(now, s.cfg.LivenessTimeout) {
		if m, ok := s.byUser[userID]; ok && m.lastSeen.Before(cutoff) {
			stale = append(stale, m.conn.ID())
		}
	}
	for id, m := range s.conns {
		if !m.announced && m.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.remove(id, "liveness timeout")
	}
}

// send delivers msg to one member.
func (s *Session) send(m *member, msg model.Message) {
	data, err := msg.Encode()
	if err != nil {
		s.logger.Error("failed to encode frame", "type", msg.Type, "error", err)
		return
	}
	if !m.conn.Send(data) {
		s.logger.Debug("send to closed connection", "conn", m.conn.ID())
	}
}

// broadcast delivers msg to every member except skip.
func (s *Session) broadcast(msg model.Message, skip *member) {
	data, err := msg.Encode()
	if err != nil {
		s.logger.Error("failed to encode frame", "type", msg.Type, "error", err)
		return
	}
	for _, m := range s.conns {
		if m == skip {
			continue
		}
		m.conn.Send(data)
	}
}

// broadcastRoster sends every member except skip the collaborator list
// without its own entry.
func (s *Session) broadcastRoster(skip *member, now time.Time) {
	for _, m := range s.conns {
		if m == skip {
			continue
		}
		msg, err := model.NewMessage(model.TypePresence, identity.System, now,
			model.PresenceData{Collaborators: s.presence.Except(m.id.UserID)})
		if err != nil {
			s.logger.Error("failed to build roster", "error", err)
			return
		}
		s.send(m, msg)
	}
}

func (s *Session) announceRelease(l model.ItemLock, reason string, now time.Time) {
	s.reg.metrics.LockReleased(reason)
	msg, err := model.NewMessage(model.TypeUnlock, identity.System, now, model.UnlockNotice{
		ItemID:   l.ItemID,
		HolderID: l.HolderID,
		Reason:   reason,
	})
	if err != nil {
		s.logger.Error("failed to build unlock", "error", err)
		return
	}
	s.broadcast(msg, nil)
	s.logger.Debug("lock released", "item", l.ItemID, "holder", l.HolderID, "reason", reason)
}
