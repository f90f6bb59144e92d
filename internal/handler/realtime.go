package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"client-portal/internal/access"
	"client-portal/internal/auth"
	"client-portal/internal/changefeed"
	"client-portal/internal/middleware"
	"client-portal/internal/resource"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// RealtimeHandler serves the change-feed websocket. A connection may hold
// any number of subscriptions, each identified by a client-chosen ref.
type RealtimeHandler struct {
	Broker   *changefeed.Broker
	Sessions middleware.SessionResolver
	Policy   access.Policy
	Logger   *slog.Logger
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
)

// wsWriter serializes writes from the read loop and the broker dispatcher.
type wsWriter struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed sync.Once
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	var err error
	w.closed.Do(func() { err = w.conn.Close() })
	return err
}

func (w *wsWriter) writeFrame(f changefeed.Frame) error {
	out, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return w.Write(out)
}

func (h *RealtimeHandler) Serve(c *gin.Context) {
	token := middleware.TokenFromRequest(c)
	if token == "" {
		token = c.Query("token")
	}
	sess, err := h.Sessions.Resolve(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
			return
		}
		fail(c, h.Logger, "session", err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	w := &wsWriter{conn: ws}

	subs := make(map[string]*changefeed.Subscription)
	defer func() {
		for _, sub := range subs {
			h.Broker.Unsubscribe(sub)
		}
		_ = w.Close()
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepalive(c.Request.Context(), ws, w, token, sess, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var f changefeed.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case changefeed.FramePing:
			_ = w.writeFrame(changefeed.Frame{Type: changefeed.FramePong, Ref: f.Ref})
		case changefeed.FrameSubscribe:
			if old, ok := subs[f.Ref]; ok {
				h.Broker.Unsubscribe(old)
				delete(subs, f.Ref)
			}
			if !h.stillValid(c.Request.Context(), token) {
				_ = w.writeFrame(changefeed.Frame{
					Type:   changefeed.FrameAck,
					Ref:    f.Ref,
					Status: changefeed.StatusChannelError,
					Error:  auth.ErrInvalidToken.Error(),
				})
				return
			}
			sub, err := h.subscription(sess, f, w)
			if err != nil {
				_ = w.writeFrame(changefeed.Frame{
					Type:   changefeed.FrameAck,
					Ref:    f.Ref,
					Status: changefeed.StatusChannelError,
					Error:  err.Error(),
				})
				continue
			}
			// ack goes out before any change on this ref can be dispatched
			if err := w.writeFrame(changefeed.Frame{
				Type:   changefeed.FrameAck,
				Ref:    f.Ref,
				Table:  sub.Table,
				Event:  sub.Event,
				Status: changefeed.StatusSubscribed,
			}); err != nil {
				return
			}
			subs[f.Ref] = sub
			h.Broker.Subscribe(sub)
		case changefeed.FrameUnsubscribe:
			if sub, ok := subs[f.Ref]; ok {
				h.Broker.Unsubscribe(sub)
				delete(subs, f.Ref)
			}
			_ = w.writeFrame(changefeed.Frame{Type: changefeed.FrameClosed, Ref: f.Ref})
		}
	}
}

// subscription validates a subscribe frame against the catalog and policy.
func (h *RealtimeHandler) subscription(sess auth.Session, f changefeed.Frame, w changefeed.Writer) (*changefeed.Subscription, error) {
	if f.Ref == "" {
		return nil, errors.New("ref is required")
	}
	schema, ok := resource.Lookup(f.Table)
	if !ok {
		return nil, errors.New("unknown table " + f.Table)
	}
	grant, err := h.Policy.Authorize(sess, access.ActionList, schema.Table)
	if err != nil {
		return nil, err
	}
	event, err := changefeed.ParseEventKind(f.Event)
	if err != nil {
		return nil, err
	}
	filter, err := schema.ParseRowFilter(f.Filter)
	if err != nil {
		return nil, err
	}
	return &changefeed.Subscription{
		Ref:    f.Ref,
		Owner:  grant.Owner,
		Table:  schema.Table,
		Event:  event,
		Filter: filter,
		Writer: w,
	}, nil
}

// stillValid reports whether token still resolves.
func (h *RealtimeHandler) stillValid(ctx context.Context, token string) bool {
	_, err := h.Sessions.Resolve(ctx, token)
	if err != nil && !errors.Is(err, auth.ErrInvalidToken) {
		h.Logger.Error("realtime session check failed", "error", err)
	}
	return err == nil
}

// keepalive pings the peer and closes the connection once the session
// expires or is revoked.
func (h *RealtimeHandler) keepalive(ctx context.Context, ws *websocket.Conn, w *wsWriter, token string, sess auth.Session, done <-chan struct{}) {
	ticker := time.NewTicker(pongWait * 9 / 10)
	defer ticker.Stop()

	var expired <-chan time.Time
	if !sess.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(sess.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-done:
			return
		case <-expired:
			_ = w.Close()
			return
		case <-ticker.C:
			if !h.stillValid(ctx, token) {
				_ = w.Close()
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = w.Close()
				return
			}
		}
	}
}
