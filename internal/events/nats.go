package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
)

// Bus publishes events over a NATS connection.
type Bus struct {
	conn *nats.Conn
}

var _ Publisher = (*Bus)(nil)

// NewBus connects to the given NATS endpoint.
func NewBus(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc}, nil
}

// Close drains and shuts down the underlying connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes event as JSON and publishes it to the subject. Core NATS
// publish is fire-and-forget; there is no ack to wait for.
func (b *Bus) Publish(ctx context.Context, subject string, event any) error {
	if b == nil || b.conn == nil {
		return errors.New("events: nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}
