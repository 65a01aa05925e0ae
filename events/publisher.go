// Package events publishes audit events of custody operations. Events carry
// identities and outcomes but never secret material.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind names a custody operation.
type Kind string

const (
	KindAsymmetricKeys Kind = "asymmetric_keys"
	KindEncryptedKey   Kind = "encrypted_key"
	KindSecretSaved    Kind = "secret_saved"
)

// Event describes one completed custody operation.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Identity  string    `json:"identity"`
	Derived   bool      `json:"derived"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind Kind, identity string, derived bool) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Identity:  identity,
		Derived:   derived,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events to an audit sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.log.InfoContext(ctx, "custody event",
		slog.String("event_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.String("identity", event.Identity),
		slog.Bool("derived", event.Derived),
		slog.Time("timestamp", event.Timestamp))
	return nil
}
