// Package notify carries engine events to external sinks without ever
// blocking or failing the operation that produced them.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event.
type Type string

const (
	CredentialIssued   Type = "CredentialIssued"
	CredentialConsumed Type = "CredentialConsumed"
	CredentialRevoked  Type = "CredentialRevoked"
	DeliveryAuthorized Type = "DeliveryAuthorized"
	DeliveryResolved   Type = "DeliveryResolved"
	DeliveryCancelled  Type = "DeliveryCancelled"
)

// Event is one engine fact published to the notification sink.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	RecordID   string            `json:"record_id"`
	ActorID    string            `json:"actor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent stamps a fresh event id.
func NewEvent(typ Type, recordID, actorID string, at time.Time, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		RecordID:   recordID,
		ActorID:    actorID,
		OccurredAt: at.UTC(),
		Attributes: attrs,
	}
}

// Emitter accepts events. Implementations must return promptly.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// Sink delivers a single event to a downstream system.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Deliver(ctx context.Context, evt Event) error { return f(ctx, evt) }
