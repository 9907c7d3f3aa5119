package broker

import (
	"context"
	"log/slog"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one delivery handed to a Handler.
type Message struct {
	Body        []byte
	Exchange    string
	RoutingKey  string
	DeliveryTag uint64
	Redelivered bool

	delivery amqp.Delivery
	autoAck  bool
	acked    atomic.Bool
}

// NewMessage wraps a delivery. autoAck must match the consumer's ack mode.
func NewMessage(d amqp.Delivery, autoAck bool) *Message {
	return &Message{
		Body:        d.Body,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		delivery:    d,
		autoAck:     autoAck,
	}
}

// Ack acknowledges the delivery so the broker removes it from the queue.
// Only the first call reaches the broker; deliveries consumed with NoAck are never acked explicitly.
func (m *Message) Ack() error {
	if m.autoAck || !m.acked.CompareAndSwap(false, true) {
		return nil
	}
	return m.delivery.Ack(false)
}

// Acked reports whether Ack has been called.
func (m *Message) Acked() bool {
	return m.autoAck || m.acked.Load()
}

// Subscription is a running consume loop.
type Subscription struct {
	queue string
	done  chan struct{}
	err   error
}

// Done is closed when the consume loop exits.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the consume loop exits. It returns nil when the context was cancelled
// and a *BrokerError wrapping ErrDeliveriesClosed when the broker stopped delivering.
func (s *Subscription) Wait() error {
	<-s.done
	return s.err
}

func (s *Subscription) run(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler, autoAck bool) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer stopped", "queue", s.queue)
			return
		case d, ok := <-deliveries:
			if !ok {
				slog.Warn("Delivery channel closed", "queue", s.queue)
				s.err = &BrokerError{Op: "consume", Queue: s.queue, Err: ErrDeliveriesClosed}
				return
			}
			handler(ctx, NewMessage(d, autoAck))
		}
	}
}
