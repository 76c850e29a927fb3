package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jellydator/ttlcache/v3"

	"github.com/rickgao/schedule-sync/internal/clock"
	"github.com/rickgao/schedule-sync/internal/metrics"
	"github.com/rickgao/schedule-sync/internal/router"
)

// Options carries a Registry's collaborators. Zero values are valid.
type Options struct {
	Clock   clock.Clock
	Sink    EditSink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// parked is an empty session waiting out its grace period. epoch ties the
// entry to one idle period so a late expiry cannot discard a later one.
type parked struct {
	s     *Session
	epoch uint64
}

// Registry maps session ids to live sessions. It is created explicitly and
// handed to the server endpoint; there is no package-level instance.
type Registry struct {
	cfg     Config
	clock   clock.Clock
	sink    EditSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *router.Router

	// idle parks empty sessions until their grace period runs out.
	idle *ttlcache.Cache[string, parked]

	mu       sync.Mutex
	sessions map[string]*Session
	started  bool
	stopped  bool
}

// NewRegistry creates a Registry.
func NewRegistry(cfg Config, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.LockLease <= 0 {
		cfg.LockLease = def.LockLease
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = def.LivenessTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}

	r := &Registry{
		cfg:      cfg,
		clock:    opts.Clock,
		sink:     opts.Sink,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		router:   router.New(metrics.SideServer, opts.Metrics, opts.Logger),
		idle:     ttlcache.New[string, parked](ttlcache.WithDisableTouchOnHit[string, parked]()),
		sessions: make(map[string]*Session),
	}
	r.idle.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, parked]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		p := item.Value()
		go r.expire(p.s, p.epoch)
	})
	return r
}

// Start runs the idle-grace expiry loop.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	go r.idle.Start()
	r.logger.Info("session registry started",
		"lock_lease", r.cfg.LockLease,
		"idle_grace", r.cfg.IdleGrace,
		"sweep_interval", r.cfg.SweepInterval,
	)
	return nil
}

// Stop closes every session and refuses further attaches.
func (r *Registry) Stop(ctx context.Context) error {
	r.logger.Info("stopping session registry")

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	started := r.started
	r.stopped = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if started {
		r.idle.Stop()
	}
	r.idle.DeleteAll()

	for _, s := range sessions {
		s.stop()
		r.metrics.SessionClosed()
	}

	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			r.logger.Warn("session registry stop timed out")
			return ctx.Err()
		}
	}

	r.logger.Info("session registry stopped", "sessions", len(sessions))
	return nil
}

// Attach registers conn with the session, creating the session on first
// use. No presence entry is created until the client announces itself.
func (r *Registry) Attach(sessionID string, conn Conn) (*Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if err := conn.Identity().Validate(); err != nil {
		return nil, fmt.Errorf("attach %s: %w", sessionID, err)
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrRegistryStopped
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		s = newSession(sessionID, r)
		r.sessions[sessionID] = s
		go s.run()
		s.post(s.armSweep)
		r.metrics.SessionOpened()
		r.logger.Info("session created", "session", sessionID)
	}
	s.refs++
	s.epoch++
	r.mu.Unlock()

	// Re-attaching within the grace period cancels the pending teardown.
	r.idle.Delete(sessionID)

	if !s.post(func() { s.attach(conn) }) {
		return nil, ErrSessionClosed
	}
	r.metrics.ConnAttached()
	return s, nil
}

// Lookup returns the live session with the given id.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Stats returns current statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{Sessions: len(r.sessions)}
	for _, s := range r.sessions {
		st.Connections += s.refs
		if s.refs == 0 {
			st.Idle++
		}
	}
	return st
}

// release is called by a session goroutine each time a connection leaves it.
func (r *Registry) release(s *Session) {
	r.metrics.ConnDetached()

	r.mu.Lock()
	s.refs--
	empty := s.refs == 0 && !r.stopped
	if empty {
		s.epoch++
	}
	epoch := s.epoch
	r.mu.Unlock()

	if !empty {
		return
	}
	if r.cfg.IdleGrace <= 0 {
		go r.expire(s, epoch)
		return
	}
	r.idle.Set(s.id, parked{s: s, epoch: epoch}, r.cfg.IdleGrace)
	s.logger.Debug("session idle", "grace", r.cfg.IdleGrace)
}

// expire discards s if it is still registered and has stayed empty since
// the idle period numbered epoch began.
func (r *Registry) expire(s *Session, epoch uint64) {
	r.mu.Lock()
	if r.sessions[s.id] != s || s.refs > 0 || s.epoch != epoch {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.id)
	r.mu.Unlock()

	s.stop()
	r.metrics.SessionClosed()
	r.logger.Info("session discarded after idle grace", "session", s.id)
}
