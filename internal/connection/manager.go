package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rickgao/schedule-sync/internal/auth"
	"github.com/rickgao/schedule-sync/internal/clock"
	"github.com/rickgao/schedule-sync/internal/metrics"
	"github.com/rickgao/schedule-sync/internal/model"
	"github.com/rickgao/schedule-sync/internal/queue"
	"github.com/rickgao/schedule-sync/internal/router"
)

// SessionParam is the query parameter the server reads the session id from.
const SessionParam = "session"

// Manager is one user's live link into one session.
type Manager interface {
	// Connect dials the session, announces presence, resyncs and drains the
	// outbound queue. Failures are returned and not retried.
	Connect(ctx context.Context, sessionID string) error

	// Disconnect closes the link and clears the caches. Queued intents are
	// kept for the next Connect.
	Disconnect()

	// Close disconnects and ends the Events channel.
	Close()

	SendCursor(x, y float64) error
	SendSelection(itemID *string) error
	SendEdit(itemID string, changes map[string]any) error
	// SendComment returns the comment id, minted when c.CommentID is empty.
	SendComment(c model.CommentData) (string, error)
	RequestLock(itemID string) error
	ReleaseLock(itemID string) error
	SendTyping(isTyping bool) error
	SendApproval(status, comments string) error

	// Read-only views of the last known session state.
	Collaborators() []model.Collaborator
	Locks() []model.ItemLock
	IsItemLocked(itemID string) bool
	HasLock(itemID string) bool

	Events() <-chan Event
	State() State
	QueueLen() int
}

// DialFunc opens a transport to rawURL.
type DialFunc func(ctx context.Context, rawURL string, header http.Header) (Client, error)

// Options carries a Manager's collaborators. Zero values are valid.
type Options struct {
	Dial    DialFunc
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// link is one transport attempt. It fails at most once.
type link struct {
	client Client

	synced   chan struct{}
	syncOnce sync.Once

	done     chan struct{}
	failOnce sync.Once
	err      error
}

func newLink(c Client) *link {
	return &link{
		client: c,
		synced: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *link) fail(err error) {
	l.failOnce.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *link) failed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	dial    DialFunc
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *router.Router
	signer  auth.Signer

	outbound *queue.Buffer[[]byte]
	events   *queue.Buffer[Event]
	eventsCh chan Event

	// writeMu serializes writes on the live link so mu can be released
	// while a write blocks. Taken after mu, never the other way round.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped on every Connect and Disconnect
	sessionID string
	runCtx    context.Context
	cancel    context.CancelFunc
	link      *link
	backoff   backoff.BackOff
	attempt   int
	retry     clock.Timer
	heartbeat clock.Timer
	roster    map[string]model.Collaborator
	locks     map[string]model.ItemLock
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig, opts Options) Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	def := DefaultManagerConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = def.ResyncTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	logger := opts.Logger.With("user", cfg.Identity.UserID)
	if opts.Dial == nil {
		opts.Dial = websocketDialer(cfg.Client, logger)
	}

	var secret []byte
	if cfg.AuthSecret != "" {
		secret = []byte(cfg.AuthSecret)
	}

	m := &manager{
		cfg:      cfg,
		dial:     opts.Dial,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   logger,
		router:   router.New(metrics.SideClient, opts.Metrics, logger),
		signer:   auth.Signer{Secret: secret, Now: opts.Clock.Now},
		outbound: queue.New[[]byte](cfg.QueueSize),
		events:   queue.New[Event](cfg.EventBuffer),
		eventsCh: make(chan Event),
		state:    StateDisconnected,
		backoff:  newBackoff(cfg.ReconnectBaseDelay, cfg.MaxReconnectAttempts),
		roster:   make(map[string]model.Collaborator),
		locks:    make(map[string]model.ItemLock),
	}
	go m.forwardEvents()
	return m
}

// websocketDialer dials with the real websocket Client. Headers set on cfg
// are sent too unless they collide with the identity headers.
func websocketDialer(cfg ClientConfig, logger *slog.Logger) DialFunc {
	return func(ctx context.Context, rawURL string, header http.Header) (Client, error) {
		c := cfg
		c.URL = rawURL
		c.Header = header.Clone()
		for k, v := range cfg.Header {
			if _, ok := c.Header[k]; !ok {
				c.Header[k] = v
			}
		}
		cl := NewClient(c, logger)
		if err := cl.Connect(ctx); err != nil {
			return nil, err
		}
		return cl, nil
	}
}

// Connect establishes the link.
func (m *manager) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}

	m.mu.Lock()
	if err := m.moveLocked(trigConnect); err != nil {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.gen++
	gen := m.gen
	m.sessionID = sessionID
	if m.cancel != nil {
		m.cancel()
	}
	m.runCtx, m.cancel = context.WithCancel(context.Background())
	m.backoff.Reset()
	m.attempt = 0
	m.mu.Unlock()

	m.logger.Info("connecting", "session", sessionID)

	if err := m.establish(ctx, gen); err != nil {
		m.mu.Lock()
		if m.gen == gen && m.state == StateConnecting {
			m.moveLocked(trigFailed)
			m.cancel()
		}
		m.mu.Unlock()
		m.logger.Warn("connect failed", "session", sessionID, "error", err)
		return fmt.Errorf("connect %s: %w", sessionID, err)
	}
	return nil
}

// Disconnect closes the link.
func (m *manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.moveLocked(trigClose)
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	m.stopTimersLocked()
	l := m.link
	m.link = nil
	m.roster = make(map[string]model.Collaborator)
	m.locks = make(map[string]model.ItemLock)
	m.emitLocked(Event{Type: EventDisconnect})
	m.mu.Unlock()

	if l != nil {
		l.fail(ErrDisconnected)
		l.client.Close()
	}
	m.logger.Info("disconnected", "queued", m.outbound.Len())
}

// Close disconnects and ends the Events channel.
func (m *manager) Close() {
	m.Disconnect()
	m.events.Close()
}

func (m *manager) Events() <-chan Event { return m.eventsCh }

func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *manager) QueueLen() int { return m.outbound.Len() }

// establish dials, announces, resyncs and drains. It leaves the manager
// Connected on success.
func (m *manager) establish(ctx context.Context, gen uint64) error {
	m.mu.Lock()
	sessionID := m.sessionID
	reconnecting := m.state == StateReconnecting
	m.mu.Unlock()

	header, err := m.signer.Headers(m.cfg.Identity)
	if err != nil {
		return err
	}
	target, err := sessionURL(m.cfg.URL, sessionID)
	if err != nil {
		return err
	}

	c, err := m.dial(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	l := newLink(c)
	m.mu.Lock()
	if m.gen != gen || (m.state != StateConnecting && m.state != StateReconnecting) {
		m.mu.Unlock()
		c.Close()
		return ErrDisconnected
	}
	m.link = l
	m.mu.Unlock()

	go m.readLoop(l)

	fail := func(err error) error {
		l.fail(err)
		c.Close()
		m.mu.Lock()
		if m.link == l {
			m.link = nil
		}
		m.mu.Unlock()
		return err
	}

	// Announce and resync go out ahead of anything queued.
	for _, t := range []model.MessageType{model.TypePresence, model.TypeSync} {
		data, err := m.encode(t, nil)
		if err != nil {
			return fail(err)
		}
		if err := c.Send(data); err != nil {
			return fail(fmt.Errorf("send %s: %w", t, err))
		}
	}

	timedOut := make(chan struct{})
	timer := m.clock.AfterFunc(m.cfg.ResyncTimeout, func() { close(timedOut) })
	defer timer.Stop()

	select {
	case <-l.synced:
	case <-timedOut:
		return fail(ErrResyncTimeout)
	case <-l.done:
		return fail(l.err)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link != l || m.gen != gen {
		c.Close()
		return ErrDisconnected
	}

	if err := m.drainLocked(c); err != nil {
		l.fail(err)
		c.Close()
		m.link = nil
		return err
	}

	m.moveLocked(trigEstablished)
	if reconnecting {
		m.emitLocked(Event{Type: EventReconnect})
		m.logger.Info("reconnected", "session", sessionID, "attempts", m.attempt)
	} else {
		m.logger.Info("connected", "session", sessionID)
	}
	m.backoff.Reset()
	m.attempt = 0
	m.armHeartbeatLocked(l)

	// The link may have dropped between the drain and now.
	if l.failed() {
		m.lostLocked(l, l.err)
	}
	return nil
}

// drainLocked sends every queued frame in order. On a send failure the
// unsent remainder goes back into the queue, still in order and still ahead
// of anything newer.
func (m *manager) drainLocked(c Client) error {
	pending := m.outbound.Drain(0)
	for i, data := range pending {
		if err := c.Send(data); err != nil {
			for _, rest := range pending[i:] {
				m.outbound.Push(rest)
			}
			return fmt.Errorf("drain queue: %w", err)
		}
	}
	if len(pending) > 0 {
		m.logger.Debug("drained outbound queue", "frames", len(pending))
	}
	return nil
}

// linkFailed records a transport failure detected outside establish.
func (m *manager) linkFailed(l *link, err error) {
	l.fail(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == l && m.state == StateConnected {
		m.lostLocked(l, err)
	}
}

// lostLocked moves a connected manager to reconnecting.
func (m *manager) lostLocked(l *link, err error) {
	m.logger.Warn("connection lost", "session", m.sessionID, "error", err)
	m.moveLocked(trigLost)
	m.link = nil
	m.stopTimersLocked()
	l.fail(err)
	l.client.Close()
	m.emitLocked(Event{Type: EventDisconnect, Err: err})
	if errors.Is(err, ErrSuperseded) {
		m.supersededLocked()
		return
	}
	m.scheduleRetryLocked()
}

// supersededLocked stops reconnecting. Another connection for the same user
// took the session over; reconnecting would only evict it in turn.
func (m *manager) supersededLocked() {
	m.moveLocked(trigSuperseded)
	m.emitLocked(Event{Type: EventReconnectFailed, Err: ErrSuperseded})
	m.logger.Warn("replaced by a newer connection, not reconnecting", "session", m.sessionID)
}

// scheduleRetryLocked arms the next reconnect attempt or gives up.
func (m *manager) scheduleRetryLocked() {
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.moveLocked(trigExhausted)
		m.metrics.ReconnectAttempt("gave_up")
		m.emitLocked(Event{Type: EventReconnectFailed, Err: ErrGaveUp})
		m.logger.Error("giving up on reconnect", "session", m.sessionID, "attempts", m.attempt)
		return
	}

	m.attempt++
	gen := m.gen
	m.logger.Info("scheduling reconnect", "attempt", m.attempt, "delay", delay)
	m.retry = m.clock.AfterFunc(delay, func() { go m.reconnect(gen) })
}

func (m *manager) reconnect(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	ctx := m.runCtx
	attempt := m.attempt
	m.mu.Unlock()

	err := m.establish(ctx, gen)
	if err == nil {
		m.metrics.ReconnectAttempt("success")
		return
	}
	m.metrics.ReconnectAttempt("failure")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != StateReconnecting {
		return
	}
	if errors.Is(err, ErrSuperseded) {
		m.supersededLocked()
		return
	}
	m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	m.moveLocked(trigFailed)
	m.scheduleRetryLocked()
}

func (m *manager) armHeartbeatLocked(l *link) {
	m.heartbeat = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.beat(l) })
}

func (m *manager) beat(l *link) {
	data, err := m.encode(model.TypePing, nil)
	if err != nil {
		m.logger.Error("failed to encode ping", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(l) {
		return
	}
	err = m.writeLocked(l, data)
	if !m.liveLocked(l) {
		return
	}
	if err != nil {
		err = fmt.Errorf("heartbeat: %w", err)
		l.fail(err)
		m.lostLocked(l, err)
		return
	}
	m.armHeartbeatLocked(l)
}

// liveLocked reports whether l is the link normal traffic goes out on.
func (m *manager) liveLocked(l *link) bool {
	return m.link == l && m.state == StateConnected
}

// writeLocked sends data on l. mu is released for the duration of the write
// and held again on return. Writes leave in the order their callers took mu.
func (m *manager) writeLocked(l *link, data []byte) error {
	m.writeMu.Lock()
	m.mu.Unlock()
	err := l.client.Send(data)
	m.writeMu.Unlock()
	m.mu.Lock()
	return err
}

func (m *manager) stopTimersLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *manager) moveLocked(t trigger) error {
	next, err := transition(m.state, t)
	if err != nil {
		m.logger.Error("state machine", "error", err)
		return err
	}
	if next != m.state {
		m.logger.Debug("state change", "from", m.state, "to", next, "on", t)
	}
	m.state = next
	return nil
}

func (m *manager) readLoop(l *link) {
	h := &inbound{m: m, l: l}
	for {
		select {
		case msg := <-l.client.Messages():
			// The router logs and counts the bad frame; the caller sees an
			// error event and the link stays up.
			if err := m.router.Route(msg.Data, h); err != nil {
				h.locked(func(m *manager) { m.emitLocked(Event{Type: EventError, Err: err}) })
			}
		case err := <-l.client.Errors():
			m.linkFailed(l, err)
			return
		case <-l.done:
			return
		}
	}
}

// send is the outbound path for every intent.
func (m *manager) send(t model.MessageType, payload any) error {
	data, err := m.encode(t, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.state == StateConnected && m.link != nil {
		l := m.link
		err := m.writeLocked(l, data)
		if err == nil {
			return nil
		}
		if m.liveLocked(l) {
			l.fail(err)
			m.lostLocked(l, err)
		}
		// Otherwise the link changed during the write; go again on the
		// new one or fall through to the queue.
	}
	m.outbound.Push(data)
	return nil
}

func (m *manager) encode(t model.MessageType, payload any) ([]byte, error) {
	msg, err := model.NewMessage(t, m.cfg.Identity, m.clock.Now(), payload)
	if err != nil {
		return nil, err
	}
	return msg.Encode()
}

func (m *manager) SendCursor(x, y float64) error {
	return m.send(model.TypeCursor, model.CursorData{X: x, Y: y})
}

func (m *manager) SendSelection(itemID *string) error {
	return m.send(model.TypeSelection, model.SelectionData{ItemID: itemID})
}

func (m *manager) SendEdit(itemID string, changes map[string]any) error {
	return m.send(model.TypeEdit, model.EditData{ItemID: itemID, Changes: changes})
}

func (m *manager) SendComment(c model.CommentData) (string, error) {
	if c.CommentID == "" {
		c.CommentID = uuid.NewString()
	}
	return c.CommentID, m.send(model.TypeComment, c)
}

func (m *manager) RequestLock(itemID string) error {
	return m.send(model.TypeLock, model.LockRequest{ItemID: itemID})
}

func (m *manager) ReleaseLock(itemID string) error {
	return m.send(model.TypeUnlock, model.LockRequest{ItemID: itemID})
}

func (m *manager) SendTyping(isTyping bool) error {
	return m.send(model.TypeTyping, model.TypingData{IsTyping: isTyping})
}

func (m *manager) SendApproval(status, comments string) error {
	return m.send(model.TypeApproval, model.ApprovalData{Status: status, Comments: comments})
}

func (m *manager) Collaborators() []model.Collaborator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosterLocked()
}

func (m *manager) Locks() []model.ItemLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locksLocked()
}

func (m *manager) IsItemLocked(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[itemID]
	return ok && !l.Expired(m.clock.Now())
}

func (m *manager) HasLock(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[itemID]
	return ok && l.HolderID == m.cfg.Identity.UserID && !l.Expired(m.clock.Now())
}

func (m *manager) rosterLocked() []model.Collaborator {
	out := make([]model.Collaborator, 0, len(m.roster))
	for _, c := range m.roster {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (m *manager) locksLocked() []model.ItemLock {
	out := make([]model.ItemLock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

func (m *manager) emitLocked(ev Event) {
	m.events.Push(ev)
}

func (m *manager) forwardEvents() {
	defer close(m.eventsCh)
	for {
		ev, ok := m.events.Pop()
		if !ok {
			return
		}
		m.eventsCh <- ev
	}
}

func sessionURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(SessionParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
