package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/schedule-sync/internal/model"
)

// Client is one transport attempt against the sync server. A Client is
// single use: once closed it cannot be connected again.
type Client interface {
	// Connect dials the server and starts the reader and keepalive.
	Connect(ctx context.Context) error

	// Close sends a normal close frame and tears the socket down.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages delivers inbound frames stamped with their arrival time.
	// The reader stalls while the channel is full.
	Messages() <-chan TimestampedMessage

	// Errors carries at most one terminal read or liveness failure.
	Errors() <-chan error

	// IsConnected reports whether the socket is up and not closed.
	IsConnected() bool
}

const (
	handshakeTimeout = 10 * time.Second
	controlTimeout   = time.Second
)

type wsClient struct {
	cfg ClientConfig
	log *slog.Logger

	inbox  chan TimestampedMessage
	failed chan error

	quit     chan struct{}
	quitOnce sync.Once

	sock  atomic.Pointer[websocket.Conn]
	up    atomic.Bool
	heard atomic.Int64 // unix nanos of the last ping or pong from the server

	wmu sync.Mutex // gorilla permits a single concurrent writer
}

// NewClient returns an unconnected Client. Zero fields in cfg take the
// values from DefaultClientConfig.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withClientDefaults(cfg)
	return &wsClient{
		cfg:    cfg,
		log:    logger.With("url", cfg.URL),
		inbox:  make(chan TimestampedMessage, cfg.BufferSize),
		failed: make(chan error, 1),
		quit:   make(chan struct{}),
	}
}

func withClientDefaults(cfg ClientConfig) ClientConfig {
	def := DefaultClientConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return cfg
}

func (c *wsClient) Connect(ctx context.Context) error {
	if c.stopping() {
		return ErrAlreadyClosed
	}

	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := d.DialContext(ctx, c.cfg.URL, cloneHeader(c.cfg.Header))
	if err != nil {
		return err
	}

	c.touch()
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	ws.SetPingHandler(func(payload string) error {
		c.touch()
		return ws.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(controlTimeout))
	})

	c.sock.Store(ws)
	if c.stopping() {
		// Close raced the handshake and found no socket to shut.
		c.sock.Store(nil)
		ws.Close()
		return ErrAlreadyClosed
	}
	c.up.Store(true)

	go c.receive(ws)
	go c.keepalive(ws)

	c.log.Debug("websocket connected")
	return nil
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func (c *wsClient) Close() error {
	var err error
	c.quitOnce.Do(func() {
		close(c.quit)
		c.up.Store(false)

		ws := c.sock.Swap(nil)
		if ws == nil {
			return
		}
		bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := ws.WriteControl(websocket.CloseMessage, bye, time.Now().Add(controlTimeout)); werr != nil {
			c.log.Debug("close frame not sent", "error", werr)
		}
		err = ws.Close()
	})
	return err
}

func (c *wsClient) Send(data []byte) error {
	ws := c.sock.Load()
	if ws == nil || !c.up.Load() {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Messages() <-chan TimestampedMessage { return c.inbox }

func (c *wsClient) Errors() <-chan error { return c.failed }

func (c *wsClient) IsConnected() bool { return c.up.Load() && !c.stopping() }

func (c *wsClient) stopping() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *wsClient) touch() { c.heard.Store(time.Now().UnixNano()) }

func (c *wsClient) silence() time.Duration {
	return time.Since(time.Unix(0, c.heard.Load()))
}

// receive pumps frames into the inbox until the socket fails or the
// client is closed.
func (c *wsClient) receive(ws *websocket.Conn) {
	defer c.up.Store(false)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !c.stopping() {
				c.fail(readFailure(err))
			}
			return
		}
		if !c.deliver(TimestampedMessage{Data: data, ReceivedAt: time.Now()}) {
			return
		}
	}
}

func (c *wsClient) deliver(msg TimestampedMessage) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.quit:
		return false
	}
}

// readFailure tags a 4001 close so the manager can tell it was
// replaced rather than dropped. The CloseError stays in the chain.
func readFailure(err error) error {
	if websocket.IsCloseError(err, model.CloseSuperseded) {
		return fmt.Errorf("%w: %w", ErrSuperseded, err)
	}
	return err
}

// keepalive pings on every tick and gives up once the server has been
// silent for longer than PingTimeout.
func (c *wsClient) keepalive(ws *websocket.Conn) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
		}

		if err := ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			c.log.Debug("ping failed", "error", err)
		}
		if quiet := c.silence(); quiet > c.cfg.PingTimeout {
			c.log.Warn("server silent, connection stale", "silent_for", quiet, "timeout", c.cfg.PingTimeout)
			c.fail(ErrStaleConnection)
			return
		}
	}
}

func (c *wsClient) fail(err error) {
	select {
	case c.failed <- err:
	default:
	}
}
