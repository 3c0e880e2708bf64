package events

import (
	"context"
	"sync"
)

// Handler processes an event. Returning an error logs it but does not stop dispatch.
type Handler func(Event) error

// Bus fans events drained from a Publisher out to in-process consumers.
// Subscribers are invoked in registration order on the draining goroutine.
// For async processing, handlers should send to their own channel/goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	onError  func(Event, error)
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers h for every downstream event type.
func (b *Bus) SubscribeAll(h Handler) {
	for _, et := range []EventType{EventWatchSetUpdated, EventGameState, EventGameFinish} {
		b.Subscribe(et, h)
	}
}

// OnError installs a callback for handler failures.
func (b *Bus) OnError(fn func(Event, error)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

// Publish dispatches an event to all registered handlers for its type.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	onError := b.onError
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(e); err != nil && onError != nil {
			onError(e, err)
		}
	}
}

// Drain dispatches everything received on src until src is closed or ctx
// is cancelled. It is the consumer that keeps the watcher from blocking.
func (b *Bus) Drain(ctx context.Context, src <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-src:
			if !ok {
				return
			}
			b.Publish(e)
		}
	}
}
