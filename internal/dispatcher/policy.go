package dispatcher

import (
	"context"
	"log/slog"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/events"
	"github.com/anirbanroydas/alertman/internal/processor"
)

// Failure is one channel task that did not deliver its notification.
type Failure struct {
	Request processor.AlertRequest
	Err     error
}

// FailurePolicy is handed the failed tasks of a message before it is acknowledged.
type FailurePolicy interface {
	HandleFailures(ctx context.Context, msg *broker.Message, env *events.AlertEnvelope, failures []Failure) error
}

// LogPolicy only logs failures; the message is acknowledged and the alerts are dropped.
type LogPolicy struct{}

func (LogPolicy) HandleFailures(_ context.Context, msg *broker.Message, _ *events.AlertEnvelope, failures []Failure) error {
	for _, f := range failures {
		slog.Warn("Dropping failed alert",
			"delivery_tag", msg.DeliveryTag,
			"alert_type", f.Request.AlertType,
			"error", f.Err,
		)
	}
	return nil
}
