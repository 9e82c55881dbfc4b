package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(UploadResultEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case CaptureStateEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStatsEvent:
		event.Publish(b.dispatcher, e)
	case UploadResultEvent:
		event.Publish(b.dispatcher, e)
	case FrameRelayedEvent:
		event.Publish(b.dispatcher, e)
	case SubscriberEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case DeviceEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e SubscriberEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CaptureStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStatsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(UploadResultEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameRelayedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SubscriberEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeviceEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
