package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/logger"
)

// NATSMirror publishes a copy of every bus message to NATS so external
// observers (dashboards, chat adapters) can follow agent traffic without
// touching the in-process bus. Each message goes out on
// <prefix>.agents.<recipient_id>.messages, once per recipient.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
	logger *logger.Logger
}

// NewNATSMirror connects to NATS with reconnection handling.
func NewNATSMirror(cfg config.NATSConfig, log *logger.Logger) (*NATSMirror, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				log.Error("NATS connection closed", zap.Error(err))
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("Connected to NATS", zap.String("url", cfg.URL))

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "execdesk"
	}
	return &NATSMirror{conn: conn, prefix: prefix, logger: log}, nil
}

// MirrorMessage implements Mirror.
func (m *NATSMirror) MirrorMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	for _, recipient := range msg.Recipients {
		subject := fmt.Sprintf("%s.agents.%s.messages", m.prefix, recipient)
		if err := m.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
	}
	return nil
}

// IsConnected returns whether the NATS connection is active.
func (m *NATSMirror) IsConnected() bool {
	return m.conn != nil && m.conn.IsConnected()
}

// Close drains and closes the NATS connection.
func (m *NATSMirror) Close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.logger.Warn("Error draining NATS connection", zap.Error(err))
		m.conn.Close()
	}
}
