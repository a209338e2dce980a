package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes events as JSON on "<subject>.<instance>".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subject == "" {
		subject = "handoff.events"
	}
	slog.Info("NATS event publisher initialized", "url", url, "subject", subject)
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return p.subject + "." + string(e.Instance)
}

// Publish sends e. Core NATS publishing is fire-and-forget; ctx is only
// checked before sending.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	slog.Debug("Published event", "instance", e.Instance, "type", e.Type, "id", e.ID)
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
