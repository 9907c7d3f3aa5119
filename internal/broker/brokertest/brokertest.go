// Package brokertest provides an in-memory broker that satisfies the broker package's
// Dialer, Connection and Channel interfaces.
package brokertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/anirbanroydas/alertman/internal/broker"
)

// Operation names accepted by FailOn.
const (
	OpDial            = "dial"
	OpChannel         = "channel"
	OpQos             = "qos"
	OpExchangeDeclare = "exchange_declare"
	OpQueueDeclare    = "queue_declare"
	OpQueueBind       = "queue_bind"
	OpPublish         = "publish"
	OpConsume         = "consume"
)

const queueBuffer = 128

// Publication is one message accepted by the fake broker.
type Publication struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

type binding struct {
	queue    string
	exchange string
	key      string
}

// Broker is an in-memory AMQP broker. The zero value is not usable; call New.
type Broker struct {
	mu sync.Mutex

	exchanges map[string]string
	queues    map[string]chan amqp.Delivery
	bindings  []binding
	failures  map[string]error
	closeRcvs []chan *amqp.Error

	published []Publication
	acked     []uint64
	nacked    []uint64
	nextTag   uint64
	calls     map[string]int
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]string),
		queues:    make(map[string]chan amqp.Delivery),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Dial satisfies broker.Dialer.
func (b *Broker) Dial(string) (broker.Connection, error) {
	if err := b.record(OpDial); err != nil {
		return nil, err
	}
	return &conn{b: b}, nil
}

// FailOn makes every later call of op return err. A nil err clears the failure.
func (b *Broker) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, op)
		return
	}
	b.failures[op] = err
}

// Calls returns how many times op was invoked.
func (b *Broker) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

// ExchangeKind returns the declared kind of exchange.
func (b *Broker) ExchangeKind(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kind, ok := b.exchanges[name]
	return kind, ok
}

// Bindings returns the routing keys binding queue to exchange.
func (b *Broker) Bindings(queue, exchange string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for _, bd := range b.bindings {
		if bd.queue == queue && bd.exchange == exchange {
			keys = append(keys, bd.key)
		}
	}
	return keys
}

// Queued removes and returns the bodies waiting on queue. Messages dropped as unroutable never show up here.
func (b *Broker) Queued(queue string) [][]byte {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	var bodies [][]byte
	for {
		select {
		case d := <-q:
			bodies = append(bodies, d.Body)
		default:
			return bodies
		}
	}
}

// Published returns every accepted publication in order.
func (b *Broker) Published() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publication(nil), b.published...)
}

// Acked returns the delivery tags acknowledged by consumers.
func (b *Broker) Acked() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint64(nil), b.acked...)
}

// Deliver enqueues body on queue as if it had been routed there.
func (b *Broker) Deliver(queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return fmt.Errorf("queue %q not declared", queue)
	}
	return b.enqueue(q, "", queue, amqp.Publishing{Body: body})
}

// CloseQueue closes the delivery channel of queue, ending its consumers.
func (b *Broker) CloseQueue(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		close(q)
		delete(b.queues, queue)
	}
}

// Shutdown notifies every connection close listener with err.
func (b *Broker) Shutdown(err *amqp.Error) {
	b.mu.Lock()
	rcvs := b.closeRcvs
	b.closeRcvs = nil
	b.mu.Unlock()
	for _, r := range rcvs {
		r <- err
		close(r)
	}
}

func (b *Broker) record(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	return b.failures[op]
}

// enqueue must be called with b.mu held.
func (b *Broker) enqueue(q chan amqp.Delivery, exchange, key string, msg amqp.Publishing) error {
	b.nextTag++
	d := amqp.Delivery{
		Acknowledger:    acknowledger{b},
		ContentType:     msg.ContentType,
		DeliveryMode:    msg.DeliveryMode,
		Timestamp:       msg.Timestamp,
		DeliveryTag:     b.nextTag,
		Exchange:        exchange,
		RoutingKey:      key,
		Body:            msg.Body,
		ContentEncoding: msg.ContentEncoding,
	}
	select {
	case q <- d:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

func (b *Broker) route(exchange, key string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, Publication{Exchange: exchange, RoutingKey: key, Msg: msg})

	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			_ = b.enqueue(q, exchange, key, msg)
		}
		return
	}

	kind := b.exchanges[exchange]
	seen := make(map[string]bool)
	for _, bd := range b.bindings {
		if bd.exchange != exchange || seen[bd.queue] {
			continue
		}
		if !matches(kind, bd.key, key) {
			continue
		}
		if q, ok := b.queues[bd.queue]; ok {
			seen[bd.queue] = true
			_ = b.enqueue(q, exchange, key, msg)
		}
	}
}

func matches(kind, pattern, key string) bool {
	switch kind {
	case "fanout":
		return true
	case "topic":
		return topicMatch(strings.Split(pattern, "."), strings.Split(key, "."))
	default:
		return pattern == key
	}
}

// topicMatch implements AMQP topic matching: "*" matches one word, "#" zero or more.
func topicMatch(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	if pattern[0] == "#" {
		for i := 0; i <= len(words); i++ {
			if topicMatch(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	}
	if len(words) == 0 {
		return false
	}
	if pattern[0] != "*" && pattern[0] != words[0] {
		return false
	}
	return topicMatch(pattern[1:], words[1:])
}

type acknowledger struct {
	b *Broker
}

func (a acknowledger) Ack(tag uint64, _ bool) error {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.acked = append(a.b.acked, tag)
	return nil
}

func (a acknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.b.mu.Lock()
	defer a.b.mu.Unlock()
	a.b.nacked = append(a.b.nacked, tag)
	return nil
}

func (a acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type conn struct {
	b *Broker
}

func (c *conn) Channel() (broker.Channel, error) {
	if err := c.b.record(OpChannel); err != nil {
		return nil, err
	}
	return &channel{b: c.b}, nil
}

func (c *conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closeRcvs = append(c.b.closeRcvs, receiver)
	return receiver
}

func (c *conn) Close() error { return nil }

type channel struct {
	b *Broker
}

func (ch *channel) Qos(int, int, bool) error {
	return ch.b.record(OpQos)
}

func (ch *channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if err := ch.b.record(OpExchangeDeclare); err != nil {
		return err
	}
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if existing, ok := ch.b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type' for exchange " + name}
	}
	ch.b.exchanges[name] = kind
	return nil
}

func (ch *channel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if err := ch.b.record(OpQueueDeclare); err != nil {
		return amqp.Queue{}, err
	}
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if _, ok := ch.b.queues[name]; !ok {
		ch.b.queues[name] = make(chan amqp.Delivery, queueBuffer)
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if err := ch.b.record(OpQueueBind); err != nil {
		return err
	}
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if _, ok := ch.b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "no exchange " + exchange}
	}
	ch.b.bindings = append(ch.b.bindings, binding{queue: name, exchange: exchange, key: key})
	return nil
}

func (ch *channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if err := ch.b.record(OpPublish); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ch.b.route(exchange, key, msg)
	return nil
}

func (ch *channel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if err := ch.b.record(OpConsume); err != nil {
		return nil, err
	}
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	q, ok := ch.b.queues[queue]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "no queue " + queue}
	}
	return q, nil
}

func (ch *channel) Close() error { return nil }
