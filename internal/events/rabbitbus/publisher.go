// Package rabbitbus publishes payment lifecycle events to RabbitMQ for
// downstream accounting and notification consumers.
package rabbitbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stratos-brokerage/paycore/pkg/payment"
	"go.uber.org/zap"
)

const (
	dialAttempts = 10
	dialBackoff  = 2 * time.Second
)

// Publisher implements payment.Publisher over a durable AMQP queue.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *zap.Logger
}

// New dials the broker and declares the queue. The dial retries because
// brokers routinely come up after the service in containerized deploys.
func New(url string, queueName string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("amqp dial failed, retrying",
			zap.Int("attempt", attempt), zap.Int("max_attempts", dialAttempts), zap.Error(err))
		time.Sleep(dialBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	return &Publisher{conn: conn, channel: channel, queue: queueName, logger: logger}, nil
}

// Publish sends the event as a persistent JSON message. The topic rides in
// the message type header so consumers can route without unmarshaling.
func (publisher *Publisher) Publish(ctx context.Context, event payment.LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	err = publisher.channel.PublishWithContext(ctx,
		"",
		publisher.queue,
		false,
		false,
		amqp.Publishing{
			MessageId:    event.PaymentID + ":" + event.Topic,
			Type:         event.Topic,
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (publisher *Publisher) Close() {
	_ = publisher.channel.Close()
	_ = publisher.conn.Close()
}
