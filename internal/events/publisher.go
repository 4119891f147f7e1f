// Package events announces committed models to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lgulliver/rvcstore/pkg/types"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ModelAdded is published after a model directory is committed
type ModelAdded struct {
	Name       string           `json:"name"`
	Source     types.SourceKind `json:"source"`
	SourceRef  string           `json:"source_ref"`
	SHA256     string           `json:"sha256"`
	FileCount  int              `json:"file_count"`
	Bytes      int64            `json:"bytes"`
	AcquiredAt time.Time        `json:"acquired_at"`
}

// Publisher delivers model events
type Publisher interface {
	PublishModelAdded(ctx context.Context, event ModelAdded) error
	Close() error
}

// NatsPublisher publishes events as JSON on a NATS subject
type NatsPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// Connect dials url and returns a publisher that owns the connection
func Connect(url, subject string) (*NatsPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("rvcstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	publisher := NewNatsPublisher(conn, subject)
	publisher.owned = true
	return publisher, nil
}

// NewNatsPublisher publishes on an existing connection
func NewNatsPublisher(conn *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{conn: conn, subject: subject}
}

// PublishModelAdded publishes event and flushes it to the server
func (p *NatsPublisher) PublishModelAdded(ctx context.Context, event ModelAdded) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal model event: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("failed to publish model event: %w", err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush model event: %w", err)
	}

	log.Debug().Str("model", event.Name).Str("subject", p.subject).Msg("model event published")
	return nil
}

// Close drains the connection if the publisher opened it
func (p *NatsPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) PublishModelAdded(context.Context, ModelAdded) error { return nil }

func (NoopPublisher) Close() error { return nil }
