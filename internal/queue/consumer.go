package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const maxReconnectBackoff = 30 * time.Second

// Subscribe consumes topic until ctx is done, reconnecting with a capped
// exponential backoff whenever the broker connection drops. Deliveries are
// acked when h succeeds and rejected without requeue when it fails, so a
// poison message cannot spin.
func (b *AMQPBroker) Subscribe(ctx context.Context, topic string, h Handler) error {
	log := b.logger.WithField("topic", topic)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(b.url)
		if err != nil {
			log.WithError(err).WithField("retry_in", backoff.String()).Warn("consumer: failed to dial broker")
			if !wait(ctx, backoff) {
				return nil
			}
			if backoff < maxReconnectBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = b.consumeLoop(ctx, conn, topic, h, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("consumer: consume loop ended, reconnecting")
		if !wait(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (b *AMQPBroker) consumeLoop(ctx context.Context, conn *amqp.Connection, topic string, h Handler, log *logrus.Entry) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		log.WithError(err).Warn("consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("consumer: started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := h(ctx, d.CorrelationId, d.Body); err != nil {
				log.WithError(err).WithField("correlation_id", d.CorrelationId).Error("consumer: handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// wait sleeps for d and reports false when ctx ended first.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
