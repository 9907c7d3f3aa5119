package broker

import (
	"fmt"
	"strings"
)

// ExchangeKind selects how an exchange routes messages to bound queues.
type ExchangeKind string

// Supported exchange kinds. ExchangeDefault is the broker's nameless default exchange.
const (
	ExchangeDefault ExchangeKind = ""
	ExchangeDirect  ExchangeKind = "direct"
	ExchangeTopic   ExchangeKind = "topic"
	ExchangeFanout  ExchangeKind = "fanout"
)

// ParseExchangeKind validates an exchange type name.
func ParseExchangeKind(s string) (ExchangeKind, error) {
	switch k := ExchangeKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ExchangeDefault, ExchangeDirect, ExchangeTopic, ExchangeFanout:
		return k, nil
	default:
		return "", fmt.Errorf("unknown exchange type %q", s)
	}
}

// RequiresBindingKey reports whether queues bound to this kind need a routing key.
func (k ExchangeKind) RequiresBindingKey() bool {
	return k == ExchangeDirect || k == ExchangeTopic
}

// Options configure a single Publish or Consume call.
type Options struct {
	// ExchangeType is the kind used when the exchange is declared. Empty uses the default exchange.
	ExchangeType    ExchangeKind
	ExchangeDurable bool

	QueueDurable bool
	// BindingKeys bind the queue to the exchange; required for direct and topic exchanges.
	BindingKeys []string

	// PrefetchCount limits unacknowledged deliveries; 0 leaves QoS untouched.
	PrefetchCount int
	// NoAck lets the broker consider deliveries acknowledged as soon as they are sent.
	NoAck       bool
	ConsumerTag string

	// Persistent marks published messages to survive a broker restart.
	Persistent bool
}

// ExchangeBinding is the topology the client has declared for one queue.
type ExchangeBinding struct {
	Exchange        string
	Kind            ExchangeKind
	ExchangeDurable bool
	Queue           string
	QueueDurable    bool
	BindingKeys     []string
	PrefetchCount   int
	NoAck           bool
}
