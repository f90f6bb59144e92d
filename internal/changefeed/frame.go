package changefeed

import (
	"fmt"
	"strings"

	"client-portal/internal/model"
)

// Frame is the JSON message exchanged on the realtime websocket.
type Frame struct {
	Type    string             `json:"type"`
	Ref     string             `json:"ref,omitempty"`
	Table   string             `json:"table,omitempty"`
	Event   string             `json:"event,omitempty"`
	Filter  string             `json:"filter,omitempty"`
	Status  string             `json:"status,omitempty"`
	Error   string             `json:"error,omitempty"`
	Payload *model.ChangeEvent `json:"payload,omitempty"`
}

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameAck         = "ack"
	FrameChange      = "change"
	FrameClosed      = "closed"
)

const (
	StatusSubscribed   = "SUBSCRIBED"
	StatusChannelError = "CHANNEL_ERROR"
)

// AnyEvent subscribes to every event kind.
const AnyEvent = "*"

// ParseEventKind normalises a subscription's event selector.
func ParseEventKind(s string) (string, error) {
	switch up := strings.ToUpper(strings.TrimSpace(s)); up {
	case "", AnyEvent:
		return AnyEvent, nil
	case string(model.EventInsert), string(model.EventUpdate), string(model.EventDelete):
		return up, nil
	default:
		return "", fmt.Errorf("unknown event %q", s)
	}
}
