package events

import "context"

// DefaultPublishBuffer matches the capacity the renderer side was sized for.
const DefaultPublishBuffer = 100

// Publisher is the bounded single-producer/single-consumer channel between
// the watcher and whatever renders its output. Publish never drops: when
// the consumer falls behind the watcher loop blocks until there is room.
type Publisher struct {
	ch chan Event
}

func NewPublisher(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultPublishBuffer
	}
	return &Publisher{ch: make(chan Event, capacity)}
}

// Publish enqueues e, blocking while the buffer is full. It returns
// ctx.Err() if ctx is cancelled before e is accepted.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	select {
	case p.ch <- e:
		return nil
	default:
	}
	select {
	case p.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer end.
func (p *Publisher) Events() <-chan Event {
	return p.ch
}

// Close ends the stream once the producer has stopped for good. Events
// already buffered are still delivered before Events is closed. Publish
// must not be called afterwards.
func (p *Publisher) Close() {
	close(p.ch)
}

func (p *Publisher) Len() int { return len(p.ch) }
func (p *Publisher) Cap() int { return cap(p.ch) }
