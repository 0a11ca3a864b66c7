package queue

import "context"

// Publisher sends a payload to a topic, tagged with a correlation ID.
type Publisher interface {
	Publish(ctx context.Context, topic, correlationID string, payload []byte) error
}

// Handler processes one delivery. A non-nil error rejects the delivery.
type Handler func(ctx context.Context, correlationID string, body []byte) error

// Subscriber delivers the messages of a topic to a handler until ctx is
// done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// Broker both publishes and subscribes.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}
