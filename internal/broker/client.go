// Package broker provides the RabbitMQ client used to publish and consume alert events.
// Topology (exchanges, queues, bindings) is declared lazily and at most once per client.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Subscription.Wait when the broker stops delivering.
var ErrDeliveriesClosed = errors.New("delivery channel closed by broker")

// Handler is called once per delivered message.
type Handler func(ctx context.Context, msg *Message)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the AMQP dialer, mainly for tests. A nil d keeps the default.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// Client owns one broker connection and channel.
type Client struct {
	url      string
	redacted string
	dial     Dialer

	mu        sync.Mutex
	conn      Connection
	channel   Channel
	exchanges map[string]ExchangeKind
	queues    map[string]ExchangeBinding
}

// NewClient creates a client for the broker described by cfg. No connection is made until first use.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		url:       cfg.URL(),
		redacted:  cfg.Redacted(),
		dial:      DialAMQP,
		exchanges: make(map[string]ExchangeKind),
		queues:    make(map[string]ExchangeBinding),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Setup opens the connection and channel if they are not open yet.
func (c *Client) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureChannel(ctx)
}

// Publish wraps payload as {"message": payload} and publishes it to exchange with routingKey.
// A payload that cannot be JSON-encoded is logged as a SerializationError and published with a fallback encoding.
func (c *Client) Publish(ctx context.Context, payload any, exchange, routingKey string, opts Options) error {
	c.mu.Lock()
	kind, err := c.setup(ctx, exchange, opts)
	ch := c.channel
	c.mu.Unlock()
	if err != nil {
		return err
	}

	body, contentType := encodePayload(exchange, payload)

	deliveryMode := amqp.Transient
	if opts.Persistent {
		deliveryMode = amqp.Persistent
	}

	target := exchange
	if kind == ExchangeDefault {
		target = ""
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: deliveryMode,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, target, routingKey, false, false, msg); err != nil {
		slog.Error("Failed to publish message",
			"exchange", exchange,
			"routing_key", routingKey,
			"delivery_mode", deliveryMode,
			"size", len(body),
			"error", err,
		)
		if ctx.Err() == nil {
			// The broker closes a channel on publish errors; start over on the next call.
			c.mu.Lock()
			if c.channel == ch {
				_ = c.discard()
			}
			c.mu.Unlock()
		}
		return &BrokerError{Op: "publish", Exchange: exchange, RoutingKey: routingKey, Err: err}
	}

	slog.Debug("Published message",
		"exchange", exchange,
		"routing_key", routingKey,
		"size", len(body),
	)
	return nil
}

// Consume declares and binds queue on exchange (once per client), applies QoS and starts delivering
// messages to handler. Handler calls are sequential. The returned Subscription ends when ctx is done
// or the broker closes the delivery channel.
func (c *Client) Consume(ctx context.Context, queue, exchange string, handler Handler, opts Options) (*Subscription, error) {
	c.mu.Lock()
	deliveries, err := c.subscribe(ctx, queue, exchange, opts)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	slog.Info("Consuming, waiting for messages",
		"queue", queue,
		"exchange", exchange,
		"prefetch", opts.PrefetchCount,
		"no_ack", opts.NoAck,
	)

	sub := &Subscription{queue: queue, done: make(chan struct{})}
	go sub.run(ctx, deliveries, handler, opts.NoAck)
	return sub, nil
}

// DeclareQueue declares queue and binds it to exchange (once per client) without consuming from it.
// Publishers use it so messages routed to exchange have somewhere to land.
func (c *Client) DeclareQueue(ctx context.Context, queue, exchange string, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, known := c.queues[queue]; known {
		return nil
	}
	if err := c.checkBindingKeys(queue, exchange, opts); err != nil {
		return err
	}
	kind, err := c.setup(ctx, exchange, opts)
	if err != nil {
		return err
	}
	return c.declareAndBindQueue(queue, exchange, kind, opts)
}

func (c *Client) subscribe(ctx context.Context, queue, exchange string, opts Options) (<-chan amqp.Delivery, error) {
	if _, known := c.queues[queue]; !known {
		if err := c.checkBindingKeys(queue, exchange, opts); err != nil {
			return nil, err
		}
	}
	kind, err := c.setup(ctx, exchange, opts)
	if err != nil {
		return nil, err
	}

	if opts.PrefetchCount > 0 {
		if err := c.channel.Qos(opts.PrefetchCount, 0, false); err != nil {
			slog.Error("Failed to set QoS", "prefetch", opts.PrefetchCount, "error", err)
			return nil, &BrokerError{Op: "qos", Exchange: exchange, Queue: queue, Err: err}
		}
	}

	if _, known := c.queues[queue]; !known {
		if err := c.declareAndBindQueue(queue, exchange, kind, opts); err != nil {
			return nil, err
		}
	}

	deliveries, err := c.channel.Consume(queue, opts.ConsumerTag, opts.NoAck, false, false, false, nil)
	if err != nil {
		slog.Error("Failed to start consuming", "queue", queue, "error", err)
		return nil, &BrokerError{Op: "consume", Exchange: exchange, Queue: queue, Err: err}
	}
	return deliveries, nil
}

// Bindings returns the queue topology declared by this client.
func (c *Client) Bindings() []ExchangeBinding {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExchangeBinding, 0, len(c.queues))
	for _, b := range c.queues {
		out = append(out, b)
	}
	return out
}

// Close closes the channel and connection and forgets declared topology.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.discard()
	slog.Info("Broker connection closed")
	return err
}

// discard closes and forgets the channel, connection and topology. Callers hold c.mu.
func (c *Client) discard() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		c.conn = nil
	}
	c.exchanges = make(map[string]ExchangeKind)
	c.queues = make(map[string]ExchangeBinding)
	return errors.Join(errs...)
}

// setup opens the channel and declares exchange if needed. Callers hold c.mu.
func (c *Client) setup(ctx context.Context, exchange string, opts Options) (ExchangeKind, error) {
	if err := c.ensureChannel(ctx); err != nil {
		return "", err
	}
	if kind, ok := c.exchanges[exchange]; ok {
		return kind, nil
	}
	return c.declareExchange(exchange, opts)
}

func (c *Client) ensureChannel(ctx context.Context) error {
	if c.channel != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.conn == nil {
		conn, err := c.dial(c.url)
		if err != nil {
			slog.Error("Failed to connect to broker", "url", c.redacted, "error", err)
			return &BrokerError{Op: "dial", Err: err}
		}
		c.conn = conn
		watchClose(conn, c.redacted)
		slog.Info("Broker connection established", "url", c.redacted)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		slog.Error("Failed to open broker channel", "error", err)
		return &BrokerError{Op: "channel", Err: err}
	}
	c.channel = ch
	slog.Info("Broker channel established")
	return nil
}

func (c *Client) declareExchange(exchange string, opts Options) (ExchangeKind, error) {
	kind, err := ParseExchangeKind(string(opts.ExchangeType))
	if err != nil {
		return "", &ConfigurationError{Exchange: exchange, Kind: opts.ExchangeType, Reason: err.Error()}
	}

	if kind != ExchangeDefault {
		if err := c.channel.ExchangeDeclare(exchange, string(kind), opts.ExchangeDurable, false, false, false, nil); err != nil {
			slog.Error("Failed to declare exchange",
				"exchange", exchange,
				"kind", kind,
				"durable", opts.ExchangeDurable,
				"error", err,
			)
			return "", &BrokerError{Op: "declare_exchange", Exchange: exchange, Err: err}
		}
		slog.Info("Declared exchange", "exchange", exchange, "kind", kind, "durable", opts.ExchangeDurable)
	}

	c.exchanges[exchange] = kind
	return kind, nil
}

// checkBindingKeys rejects a queue binding that lacks a required key before anything is declared.
// An unknown exchange kind is left for declareExchange to report. Callers hold c.mu.
func (c *Client) checkBindingKeys(queue, exchange string, opts Options) error {
	kind, known := c.exchanges[exchange]
	if !known {
		var err error
		if kind, err = ParseExchangeKind(string(opts.ExchangeType)); err != nil {
			return nil
		}
	}
	if kind.RequiresBindingKey() && len(nonEmpty(opts.BindingKeys)) == 0 {
		return &ConfigurationError{
			Exchange: exchange,
			Queue:    queue,
			Kind:     kind,
			Reason:   "binding key required for this exchange type",
		}
	}
	return nil
}

func (c *Client) declareAndBindQueue(queue, exchange string, kind ExchangeKind, opts Options) error {
	keys := nonEmpty(opts.BindingKeys)
	if _, err := c.channel.QueueDeclare(queue, opts.QueueDurable, false, false, false, nil); err != nil {
		slog.Error("Failed to declare queue", "queue", queue, "durable", opts.QueueDurable, "error", err)
		return &BrokerError{Op: "declare_queue", Exchange: exchange, Queue: queue, Err: err}
	}

	// The default exchange routes by queue name and cannot be bound explicitly.
	if kind != ExchangeDefault {
		if kind == ExchangeFanout && len(keys) == 0 {
			keys = []string{""}
		}
		for _, key := range keys {
			if err := c.channel.QueueBind(queue, key, exchange, false, nil); err != nil {
				slog.Error("Failed to bind queue",
					"queue", queue,
					"exchange", exchange,
					"routing_key", key,
					"error", err,
				)
				return &BrokerError{Op: "bind", Exchange: exchange, Queue: queue, RoutingKey: key, Err: err}
			}
		}
	}

	c.queues[queue] = ExchangeBinding{
		Exchange:        exchange,
		Kind:            kind,
		ExchangeDurable: opts.ExchangeDurable,
		Queue:           queue,
		QueueDurable:    opts.QueueDurable,
		BindingKeys:     keys,
		PrefetchCount:   opts.PrefetchCount,
		NoAck:           opts.NoAck,
	}
	slog.Info("Declared and bound queue",
		"queue", queue,
		"exchange", exchange,
		"binding_keys", keys,
		"durable", opts.QueueDurable,
	)
	return nil
}

func watchClose(conn Connection, url string) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			slog.Error("Broker connection closed unexpectedly",
				"url", url,
				"code", err.Code,
				"reason", err.Reason,
			)
		}
	}()
}

// encodePayload builds the {"message": payload} body, falling back to a plain rendering
// of payload when it cannot be encoded as JSON.
func encodePayload(exchange string, payload any) ([]byte, string) {
	body, err := json.Marshal(map[string]any{"message": payload})
	if err == nil {
		return body, "application/json"
	}

	serr := &SerializationError{Exchange: exchange, Err: err}
	slog.Error("Failed to serialize payload, publishing fallback encoding",
		"exchange", exchange,
		"payload_type", fmt.Sprintf("%T", payload),
		"error", serr,
	)

	switch p := payload.(type) {
	case []byte:
		return p, "text/plain"
	case string:
		return []byte(p), "text/plain"
	default:
		return []byte(fmt.Sprintf("%v", p)), "text/plain"
	}
}

func nonEmpty(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
