package broker

import "fmt"

// BrokerError reports a failed call at the broker boundary.
type BrokerError struct {
	Op         string
	Exchange   string
	Queue      string
	RoutingKey string
	Err        error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s failed (exchange=%q queue=%q routing_key=%q): %v",
		e.Op, e.Exchange, e.Queue, e.RoutingKey, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports topology options that cannot be applied.
type ConfigurationError struct {
	Exchange string
	Queue    string
	Kind     ExchangeKind
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid broker configuration for exchange %q (kind %q, queue %q): %s",
		e.Exchange, e.Kind, e.Queue, e.Reason)
}

// SerializationError reports a payload that could not be JSON-encoded for publishing.
type SerializationError struct {
	Exchange string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize payload for exchange %q: %v", e.Exchange, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
