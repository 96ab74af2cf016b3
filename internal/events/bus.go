package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(DeviceAddedEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use a type switch to call the generic Publish with the correct type.
	switch e := ev.(type) {
	case DeviceAddedEvent:
		event.Publish(b.dispatcher, e)
	case DeviceRemovedEvent:
		event.Publish(b.dispatcher, e)
	case PropertyChangedEvent:
		event.Publish(b.dispatcher, e)
	case CapabilityAddedEvent:
		event.Publish(b.dispatcher, e)
	case LockAcquiredEvent:
		event.Publish(b.dispatcher, e)
	case LockReleasedEvent:
		event.Publish(b.dispatcher, e)
	case ConditionEvent:
		event.Publish(b.dispatcher, e)
	case QueueIdleEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives (type inference).
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e DeviceAddedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	// kelindar/event dispatches by the concrete type of the handler
	// argument, so each event type needs its own case here.
	switch h := handler.(type) {
	case func(DeviceAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PropertyChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CapabilityAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LockAcquiredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LockReleasedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConditionEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(QueueIdleEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unrecognized handler signature: no-op unsubscribe.
		return func() {}
	}
}
