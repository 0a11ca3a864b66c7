package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

// ErrBrokerClosed is returned by a closed MemoryBroker.
var ErrBrokerClosed = errors.New("broker closed")

type delivery struct {
	correlationID string
	body          []byte
}

// MemoryBroker is an in-process Broker backed by buffered channels.
// Subscribers of the same topic compete for deliveries, like consumers
// of a work queue.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string]chan delivery
	buffer int
	closed chan struct{}
	once   sync.Once
	logger *logrus.Logger
}

// NewMemoryBroker returns a broker whose topics buffer up to buffer
// messages.
func NewMemoryBroker(buffer int, logger *logrus.Logger) *MemoryBroker {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBroker{
		topics: make(map[string]chan delivery),
		buffer: buffer,
		closed: make(chan struct{}),
		logger: obs.OrDiscard(logger),
	}
}

func (b *MemoryBroker) topic(name string) chan delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan delivery, b.buffer)
		b.topics[name] = ch
	}
	return ch
}

// Publish enqueues a copy of payload, blocking while the topic is full.
func (b *MemoryBroker) Publish(ctx context.Context, topic, correlationID string, payload []byte) error {
	body := append([]byte(nil), payload...)
	select {
	case <-b.closed:
		return ErrBrokerClosed
	default:
	}
	select {
	case b.topic(topic) <- delivery{correlationID: correlationID, body: body}:
		return nil
	case <-b.closed:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe hands deliveries to h until ctx is done or the broker is
// closed. Handler errors are logged and the delivery dropped.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch := b.topic(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return nil
		case d := <-ch:
			if err := h(ctx, d.correlationID, d.body); err != nil {
				b.logger.WithError(err).WithFields(logrus.Fields{
					"topic":          topic,
					"correlation_id": d.correlationID,
				}).Error("memory broker: handle message failed")
			}
		}
	}
}

// Close stops all subscribers.
func (b *MemoryBroker) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
