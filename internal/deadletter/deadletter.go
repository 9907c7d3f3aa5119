// Package deadletter hands failed alert deliveries to a durable sink before the broker message is acknowledged.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/dispatcher"
	"github.com/anirbanroydas/alertman/internal/events"
	"github.com/anirbanroydas/alertman/internal/metrics"
	"github.com/anirbanroydas/alertman/internal/sender"
)

// Record is one failed channel delivery. It carries alertTypes and message like an alert event,
// so a record can be republished to the alerts exchange as is.
type Record struct {
	AlertTypes  []string  `json:"alertTypes"`
	Message     any       `json:"message"`
	Error       string    `json:"error"`
	TimedOut    bool      `json:"timedOut"`
	DeliveryTag uint64    `json:"deliveryTag"`
	Exchange    string    `json:"exchange"`
	RoutingKey  string    `json:"routingKey"`
	Redelivered bool      `json:"redelivered"`
	FailedAt    time.Time `json:"failedAt"`
}

// AlertType returns the single channel the record failed on.
func (r Record) AlertType() string {
	if len(r.AlertTypes) == 0 {
		return ""
	}
	return r.AlertTypes[0]
}

// Sink stores dead-letter records.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// Policy writes every failure of a message to a Sink. It satisfies dispatcher.FailurePolicy.
type Policy struct {
	sink    Sink
	metrics metrics.Recorder
	now     func() time.Time
}

// NewPolicy creates a dead-letter policy. A nil recorder disables metrics.
func NewPolicy(sink Sink, rec metrics.Recorder) *Policy {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Policy{sink: sink, metrics: rec, now: time.Now}
}

// HandleFailures converts failures to records and writes them to the sink.
func (p *Policy) HandleFailures(ctx context.Context, msg *broker.Message, env *events.AlertEnvelope, failures []dispatcher.Failure) error {
	records := make([]Record, 0, len(failures))
	failedAt := p.now().UTC()
	for _, f := range failures {
		var derr *sender.DeliveryError
		records = append(records, Record{
			AlertTypes:  []string{f.Request.AlertType},
			Message:     env.Message,
			Error:       f.Err.Error(),
			TimedOut:    errors.As(f.Err, &derr) && derr.TimedOut,
			DeliveryTag: msg.DeliveryTag,
			Exchange:    msg.Exchange,
			RoutingKey:  msg.RoutingKey,
			Redelivered: msg.Redelivered,
			FailedAt:    failedAt,
		})
	}

	if err := p.sink.Write(ctx, records); err != nil {
		return fmt.Errorf("failed to dead-letter %d alert(s): %w", len(records), err)
	}

	for _, r := range records {
		p.metrics.RecordDeadLettered()
		slog.Info("Dead-lettered alert",
			"delivery_tag", r.DeliveryTag,
			"alert_type", r.AlertType(),
			"timed_out", r.TimedOut,
		)
	}
	return nil
}

var _ dispatcher.FailurePolicy = (*Policy)(nil)
