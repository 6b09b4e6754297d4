// Package eventbus carries flow mutation events from the engine to its observers.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowpatch/pkg/events"
)

// ErrUnexpectedEvent is returned by typed handlers given an event of another type.
var ErrUnexpectedEvent = errors.New("unexpected event type")

// Event is a domain event about exactly one flow.
type Event interface {
	GetType() events.EventType
	GetFlowID() string
}

// EventPublisher publishes events keyed by flow sys_id, so a partitioned broker
// delivers the events of one flow in the order they happened.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a decoded event, a pointer to one of the events package types.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// On adapts fn into an EventHandler that rejects events not of type T.
func On[T Event](fn func(ctx context.Context, event T) error) EventHandler {
	return func(ctx context.Context, event any) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedEvent, event)
		}

		return fn(ctx, typed)
	}
}

// FlowKey returns key, falling back to the flow the event belongs to.
func FlowKey(key string, event Event) string {
	if key != "" {
		return key
	}

	return event.GetFlowID()
}
