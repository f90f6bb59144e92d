// Package realtime is the client side of the change feed: it subscribes to
// a table over the portal websocket and keeps an ordered, in-memory
// collection of rows reconciled with the events it receives.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"client-portal/internal/changefeed"
	"client-portal/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateActive
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateActive:
		return "active"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Spec selects the changes a subscription receives. Event is INSERT,
// UPDATE, DELETE or "*" (the default); Filter has the form "column=eq.value".
type Spec struct {
	Table  string
	Event  string
	Filter string
}

// SubscriptionError is returned when the server refuses a subscription.
type SubscriptionError struct {
	Status  string
	Message string
}

func (e *SubscriptionError) Error() string {
	if e.Message == "" {
		return "realtime: subscription " + e.Status
	}
	return "realtime: subscription " + e.Status + ": " + e.Message
}

var ErrConnectionLost = errors.New("realtime: connection lost")

const (
	ackTimeout = 10 * time.Second
	writeWait  = 5 * time.Second
	eventsBuf  = 64
)

type Client struct {
	// URL of the websocket endpoint, e.g. ws://host/realtime/v1/websocket.
	URL    string
	Token  string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Subscribe opens a connection and registers spec on it. It returns once
// the server has acknowledged the subscription. Cancelling ctx closes the
// subscription.
func (c *Client) Subscribe(ctx context.Context, spec Spec) (*Subscription, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	s := &Subscription{
		ref:    uuid.NewString(),
		spec:   spec,
		conn:   conn,
		events: make(chan model.ChangeEvent, eventsBuf),
		done:   make(chan struct{}),
		logger: logger,
	}
	s.state.Store(int32(StateConnecting))

	if err := s.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.stop = context.AfterFunc(ctx, func() { _ = s.Close() })
	go s.readLoop()
	return s, nil
}

// Subscription is a live, ordered stream of change events for one Spec.
// Events must be drained by a single consumer.
type Subscription struct {
	ref    string
	spec   Spec
	conn   *websocket.Conn
	events chan model.ChangeEvent
	done   chan struct{}
	logger *slog.Logger

	state     atomic.Int32
	errMu     sync.Mutex
	err       error
	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      func() bool
}

func (s *Subscription) Events() <-chan model.ChangeEvent { return s.events }

func (s *Subscription) State() State { return State(s.state.Load()) }

// Err reports why the stream ended, or nil if it was closed by the caller.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close unsubscribes and releases the connection. It is safe to call more
// than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		_ = s.write(changefeed.Frame{Type: changefeed.FrameUnsubscribe, Ref: s.ref})
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

func (s *Subscription) handshake(ctx context.Context) error {
	if err := s.write(changefeed.Frame{
		Type:   changefeed.FrameSubscribe,
		Ref:    s.ref,
		Table:  s.spec.Table,
		Event:  s.spec.Event,
		Filter: s.spec.Filter,
	}); err != nil {
		return fmt.Errorf("realtime: subscribe: %w", err)
	}

	deadline := time.Now().Add(ackTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	unblock := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer unblock()

	for {
		f, err := s.read()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("realtime: awaiting ack: %w", ctxErr)
			}
			return fmt.Errorf("realtime: awaiting ack: %w", err)
		}
		if f.Type != changefeed.FrameAck || f.Ref != s.ref {
			continue
		}
		if f.Status != changefeed.StatusSubscribed {
			s.state.Store(int32(StateErrored))
			return &SubscriptionError{Status: f.Status, Message: f.Error}
		}
		s.state.Store(int32(StateSubscribed))
		return nil
	}
}

func (s *Subscription) readLoop() {
	defer s.stop()
	defer close(s.events)
	for {
		f, err := s.read()
		if err != nil {
			if s.advance(StateErrored) {
				s.fail(fmt.Errorf("%w: %v", ErrConnectionLost, err))
				_ = s.conn.Close()
			}
			return
		}
		if f.Ref != s.ref {
			continue
		}

		switch f.Type {
		case changefeed.FrameChange:
			if f.Payload == nil {
				continue
			}
			s.advance(StateActive)
			select {
			case s.events <- *f.Payload:
			case <-s.done:
				return
			}
		case changefeed.FrameClosed:
			if s.advance(StateErrored) {
				s.fail(fmt.Errorf("%w: channel closed by server", ErrConnectionLost))
				_ = s.conn.Close()
			}
			return
		}
	}
}

// advance moves to next unless the subscription already ended.
func (s *Subscription) advance(next State) bool {
	for {
		cur := State(s.state.Load())
		if cur == StateErrored || cur == StateClosed {
			return false
		}
		if cur == next || s.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func (s *Subscription) fail(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.logger.Warn("realtime subscription ended", "table", s.spec.Table, "ref", s.ref, "error", err)
}

func (s *Subscription) read() (changefeed.Frame, error) {
	var f changefeed.Frame
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return changefeed.Frame{}, nil
	}
	return f, nil
}

func (s *Subscription) write(f changefeed.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}
