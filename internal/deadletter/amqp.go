package deadletter

import (
	"context"
	"fmt"

	"github.com/anirbanroydas/alertman/internal/broker"
)

// Publisher is the part of broker.Client the AMQP sink needs.
type Publisher interface {
	DeclareQueue(ctx context.Context, queue, exchange string, opts broker.Options) error
	Publish(ctx context.Context, payload any, exchange, routingKey string, opts broker.Options) error
}

// AMQPSink republishes records to a durable direct exchange with persistent delivery.
// The dead-letter queue is declared and bound with the routing key before publishing,
// so records are never dropped as unroutable.
type AMQPSink struct {
	pub        Publisher
	exchange   string
	queue      string
	routingKey string
	opts       broker.Options
}

// NewAMQPSink creates a sink publishing to exchange with routingKey, parking records on queue.
func NewAMQPSink(pub Publisher, exchange, queue, routingKey string) *AMQPSink {
	return &AMQPSink{
		pub:        pub,
		exchange:   exchange,
		queue:      queue,
		routingKey: routingKey,
		opts: broker.Options{
			ExchangeType:    broker.ExchangeDirect,
			ExchangeDurable: true,
			QueueDurable:    true,
			BindingKeys:     []string{routingKey},
			Persistent:      true,
		},
	}
}

// Write publishes each record as its own message and stops at the first failure.
func (s *AMQPSink) Write(ctx context.Context, records []Record) error {
	// No-op once declared; a reconnected client declares again.
	if err := s.pub.DeclareQueue(ctx, s.queue, s.exchange, s.opts); err != nil {
		return fmt.Errorf("declare dead-letter queue %q: %w", s.queue, err)
	}
	for _, r := range records {
		if err := s.pub.Publish(ctx, r, s.exchange, s.routingKey, s.opts); err != nil {
			return fmt.Errorf("publish %s record to %q: %w", r.AlertType(), s.exchange, err)
		}
	}
	return nil
}
