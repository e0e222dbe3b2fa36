// Package eventbus carries domain events into the worker and lifecycle events out of it.
package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/drip/pkg/events"
)

// Event is anything published on the drip topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event. key groups events that must stay ordered, usually a
// contact or execution id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event as a pointer to its concrete type.
// A returned error asks the transport to redeliver.
type EventHandler func(ctx context.Context, event any) error

// Handlers maps event types to their handler.
type Handlers map[events.EventType]EventHandler

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// HandleAll registers every handler on sub. Handlers must be registered before Subscribe.
func HandleAll(sub EventSubscriber, handlers Handlers) error {
	for eventType, handler := range handlers {
		if err := sub.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s events: %w", eventType, err)
		}
	}

	return nil
}
