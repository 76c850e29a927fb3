// Package router classifies wire frames by their type tag and dispatches
// them to a Handler. It is shared by the server session actor and the
// client connection manager.
package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/rickgao/schedule-sync/internal/metrics"
	"github.com/rickgao/schedule-sync/internal/model"
)

// Router is safe for concurrent use; Route itself holds no lock while the
// handler runs.
type Router struct {
	side    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu              sync.Mutex
	received        int64
	routed          int64
	parseErrors     int64
	unknownMessages int64
	invalidPayloads int64
}

// New creates a Router. side labels metrics (metrics.SideServer or
// metrics.SideClient).
func New(side string, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		side:    side,
		logger:  logger.With("router", side),
		metrics: m,
	}
}

// Classify extracts the type tag without decoding the whole frame.
func Classify(data []byte) (model.MessageType, error) {
	if !gjson.ValidBytes(data) {
		return "", ErrMalformed
	}
	res := gjson.GetBytes(data, "type")
	if res.Type != gjson.String {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	t := model.MessageType(res.String())
	if !t.Valid() {
		return t, fmt.Errorf("%w: %q", ErrUnknownType, res.String())
	}
	return t, nil
}

// Route classifies data and calls the matching Handler method. Malformed and
// unknown frames are counted, logged and returned as errors; the caller
// drops them and carries on.
func (r *Router) Route(data []byte, h Handler) error {
	r.count(&r.received)

	t, err := Classify(data)
	if err != nil {
		if t != "" {
			r.count(&r.unknownMessages)
			r.metrics.RouteError(r.side, "unknown_type")
			r.logger.Warn("dropping unknown message type", "type", t)
		} else {
			r.count(&r.parseErrors)
			r.metrics.RouteError(r.side, "malformed")
			r.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		}
		return err
	}

	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		r.count(&r.parseErrors)
		r.metrics.RouteError(r.side, "malformed")
		r.logger.Warn("failed to decode envelope", "type", t, "error", err)
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := dispatch(msg, h); err != nil {
		r.count(&r.invalidPayloads)
		r.metrics.RouteError(r.side, "invalid_payload")
		r.logger.Warn("dropping frame with invalid payload", "type", t, "user", msg.UserID, "error", err)
		return err
	}

	r.count(&r.routed)
	r.metrics.Message(r.side, string(t))
	return nil
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		MessagesReceived: r.received,
		MessagesRouted:   r.routed,
		ParseErrors:      r.parseErrors,
		UnknownMessages:  r.unknownMessages,
		InvalidPayloads:  r.invalidPayloads,
	}
}

func (r *Router) count(field *int64) {
	r.mu.Lock()
	*field++
	r.mu.Unlock()
}

func dispatch(msg model.Message, h Handler) error {
	switch msg.Type {
	case model.TypeCursor:
		d, err := decode[model.CursorData](msg)
		if err != nil {
			return err
		}
		h.OnCursor(msg, d)

	case model.TypeSelection:
		d, err := decode[model.SelectionData](msg)
		if err != nil {
			return err
		}
		h.OnSelection(msg, d)

	case model.TypeEdit:
		d, err := decode[model.EditData](msg)
		if err != nil {
			return err
		}
		if d.ItemID == "" {
			return fmt.Errorf("%w: edit without itemId", ErrInvalidPayload)
		}
		h.OnEdit(msg, d)

	case model.TypeComment:
		d, err := decode[model.CommentData](msg)
		if err != nil {
			return err
		}
		h.OnComment(msg, d)

	case model.TypeLock:
		d, err := decode[model.LockResult](msg)
		if err != nil {
			return err
		}
		if d.ItemID == "" {
			return fmt.Errorf("%w: lock without itemId", ErrInvalidPayload)
		}
		h.OnLock(msg, d)

	case model.TypeUnlock:
		d, err := decode[model.UnlockNotice](msg)
		if err != nil {
			return err
		}
		if d.ItemID == "" {
			return fmt.Errorf("%w: unlock without itemId", ErrInvalidPayload)
		}
		h.OnUnlock(msg, d)

	case model.TypeTyping:
		d, err := decode[model.TypingData](msg)
		if err != nil {
			return err
		}
		h.OnTyping(msg, d)

	case model.TypeApproval:
		d, err := decode[model.ApprovalData](msg)
		if err != nil {
			return err
		}
		h.OnApproval(msg, d)

	case model.TypePresence:
		d, err := decode[model.PresenceData](msg)
		if err != nil {
			return err
		}
		h.OnPresence(msg, d)

	case model.TypeSync:
		d, err := decode[model.SyncData](msg)
		if err != nil {
			return err
		}
		h.OnSync(msg, d)

	case model.TypePing:
		h.OnPing(msg)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return nil
}

func decode[T any](msg model.Message) (T, error) {
	v, err := model.Decode[T](msg)
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return v, nil
}
