package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/concert-seat-admission/internal/obs"
)

// AMQPBroker is a RabbitMQ backed Broker. Topics map to durable queues on
// the default exchange. Publishing reuses one long-lived connection and
// channel that are re-opened after a failure; each Subscribe call owns
// its own connection.
type AMQPBroker struct {
	url      string
	prefetch int
	logger   *logrus.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewAMQPBroker returns a broker for url. Nothing is dialled until the
// first Publish or Subscribe.
func NewAMQPBroker(url string, prefetch int, logger *logrus.Logger) *AMQPBroker {
	if prefetch <= 0 {
		prefetch = 50
	}
	return &AMQPBroker{url: url, prefetch: prefetch, logger: obs.OrDiscard(logger)}
}

// Publish sends payload as a persistent JSON message on topic.
func (b *AMQPBroker) Publish(ctx context.Context, topic, correlationID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channel()
	if err != nil {
		return err
	}
	if !b.declared[topic] {
		if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			b.reset()
			return fmt.Errorf("queue declare %s: %w", topic, err)
		}
		b.declared[topic] = true
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
		Body:          payload,
	}
	if err := ch.PublishWithContext(ctx, "", topic, false, false, pub); err != nil {
		b.reset()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// channel returns the publishing channel, dialling when needed. b.mu must
// be held.
func (b *AMQPBroker) channel() (*amqp.Channel, error) {
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		b.reset()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	b.ch = ch
	b.declared = make(map[string]bool)
	return ch, nil
}

// reset drops the publishing connection. b.mu must be held.
func (b *AMQPBroker) reset() {
	if b.ch != nil {
		_ = b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

// Close releases the publishing connection.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	return nil
}
