package changefeed

import (
	"encoding/json"
	"log/slog"
	"strings"

	"client-portal/internal/model"
	"github.com/nats-io/nats.go"
)

// NATSMirror republishes every change event on NATS so services outside
// this process can follow the feed. Subjects are <prefix>.<table>.<type>.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

type mirroredEvent struct {
	Owner string            `json:"owner"`
	Event model.ChangeEvent `json:"event"`
}

func ConnectNATS(url, prefix string, logger *slog.Logger) (*NATSMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("client-portal"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSMirror{conn: conn, prefix: prefix, logger: logger}, nil
}

func (m *NATSMirror) Subject(ev model.ChangeEvent) string {
	return m.prefix + "." + ev.Table + "." + strings.ToLower(string(ev.Type))
}

func (m *NATSMirror) Publish(ev model.ChangeEvent) {
	data, err := json.Marshal(mirroredEvent{Owner: ev.Owner, Event: ev})
	if err != nil {
		m.logger.Error("nats mirror: marshal failed", "error", err)
		return
	}
	if err := m.conn.Publish(m.Subject(ev), data); err != nil {
		m.logger.Warn("nats mirror: publish failed", "subject", m.Subject(ev), "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (m *NATSMirror) Close() error {
	return m.conn.Drain()
}
