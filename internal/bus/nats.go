// Package bus publishes persisted state changes to NATS for external
// consumers such as push dispatchers and cross-process relays.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pulseim/realtime/internal/model"
)

const (
	SubjectMessageCreated = "chat.messages.created"
	SubjectCallUpdated    = "chat.calls.updated"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
	MaxPingsOut   int
}

// Publisher forwards message and call events to NATS. Publishing is
// fire-and-forget: failures are logged and never surface to the caller.
type Publisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// Connect dials NATS with reconnect handling and returns a publisher.
func Connect(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	p := &Publisher{logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.PingInterval(cfg.PingInterval),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p.conn = conn
	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats connected")
	return p, nil
}

// MessageCreated publishes a persisted message.
func (p *Publisher) MessageCreated(m *model.Message) {
	p.publish(SubjectMessageCreated, m)
}

// CallUpdated publishes a call state transition.
func (p *Publisher) CallUpdated(c *model.Call) {
	p.publish(SubjectCallUpdated, c)
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("encode bus event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("publish bus event")
	}
}

// IsConnected reports whether the NATS connection is live.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
