// Package server exposes the session registry over websockets.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/schedule-sync/internal/auth"
	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/model"
	"github.com/rickgao/schedule-sync/internal/queue"
	"github.com/rickgao/schedule-sync/internal/session"
)

// SessionParam is the query parameter naming the document session.
const SessionParam = "session"

// Config configures the websocket endpoint.
type Config struct {
	WriteTimeout time.Duration // Default: 5s
	PingInterval time.Duration // Default: 30s. Three intervals without a frame or pong drop the peer
	ReadLimit    int64         // Default: 1 MiB
	SendBuffer   int           // Initial per-connection send queue capacity. Default: 256
	AuthSecret   string        // Empty trusts identity headers as given
	MaxClockSkew time.Duration // Default: 2m
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    1 << 20,
		SendBuffer:   256,
		MaxClockSkew: auth.DefaultMaxSkew,
	}
}

// Handler upgrades requests and attaches them to their session.
type Handler struct {
	cfg      Config
	registry *session.Registry
	verifier auth.Verifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler serving reg.
func NewHandler(cfg Config, reg *session.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	var secret []byte
	if cfg.AuthSecret != "" {
		secret = []byte(cfg.AuthSecret)
	}

	return &Handler{
		cfg:      cfg,
		registry: reg,
		verifier: auth.Verifier{Secret: secret, MaxSkew: cfg.MaxClockSkew},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers connect from the host application's origin; the
			// gateway in front of us enforces it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles one websocket connection for its whole lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get(SessionParam)
	if sessionID == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}

	who, err := h.verifier.FromRequest(r)
	if err != nil {
		h.logger.Warn("rejected connection", "session", sessionID, "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(uuid.NewString(), who, ws, h.cfg, h.logger.With("session", sessionID, "user", who.UserID))
	go c.writeLoop()
	go c.pingLoop()

	s, err := h.registry.Attach(sessionID, c)
	if err != nil {
		c.logger.Warn("attach failed", "error", err)
		c.Close()
		return
	}

	c.readLoop(s)
}

// conn is one server-side websocket. Frames are queued by the session
// goroutine and written by writeLoop, so a slow client never stalls the
// session.
type conn struct {
	id     string
	who    identity.Identity
	ws     *websocket.Conn
	out    *queue.Buffer[[]byte]
	cfg    Config
	logger *slog.Logger

	closeOnce sync.Once
	closeMsg  []byte        // written by writeLoop once out is drained
	done      chan struct{} // closed when writeLoop exits
}

func newConn(id string, who identity.Identity, ws *websocket.Conn, cfg Config, logger *slog.Logger) *conn {
	return &conn{
		id:     id,
		who:    who,
		ws:     ws,
		out:    queue.New[[]byte](cfg.SendBuffer),
		cfg:    cfg,
		logger: logger.With("conn", id),
		done:   make(chan struct{}),
	}
}

func (c *conn) ID() string                  { return c.id }
func (c *conn) Identity() identity.Identity { return c.who }

func (c *conn) Send(data []byte) bool {
	return c.out.Push(data)
}

// Close stops accepting frames; writeLoop flushes what is queued and then
// closes the socket.
func (c *conn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

// Supersede closes with CloseSuperseded so the client stays down.
func (c *conn) Supersede() {
	c.closeWith(model.CloseSuperseded, "superseded")
}

func (c *conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		c.out.Close()
	})
}

func (c *conn) readLoop(s *session.Session) {
	defer func() {
		s.Detach(c)
		c.Close()
	}()

	pongWait := 3 * c.cfg.PingInterval
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Debug("connection closed by peer", "code", closeErr.Code)
			} else {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if !s.Dispatch(c, data) {
			return
		}
	}
}

func (c *conn) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	for {
		data, ok := c.out.Pop()
		if !ok {
			c.ws.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(time.Second))
			return
		}

		c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Debug("write failed", "error", err)
			c.Close()
			return
		}
	}
}

// pingLoop sends transport pings until writeLoop exits. The peer's pongs
// keep readLoop's deadline moving.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}
