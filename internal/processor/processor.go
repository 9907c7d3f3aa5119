// Package processor turns one alert request into one delivered notification for a single channel.
package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anirbanroydas/alertman/internal/notification"
	"github.com/anirbanroydas/alertman/internal/sender"
)

// AlertMessage carries the routing fields and body for one channel.
type AlertMessage struct {
	Sender   string
	Receiver string
	Subject  string
	Body     any
}

// AlertRequest is the input of a Processor.
type AlertRequest struct {
	AlertMessage AlertMessage
	AlertType    string
}

// Builder creates the channel-specific notification for a request.
type Builder func(msg AlertMessage) notification.Notification

// BuildEmail builds an email notification.
func BuildEmail(msg AlertMessage) notification.Notification {
	return notification.NewEmail(msg.Sender, msg.Receiver, msg.Subject, msg.Body)
}

// BuildSMS builds an SMS notification.
func BuildSMS(msg AlertMessage) notification.Notification {
	return notification.NewSMS(msg.Sender, msg.Receiver, msg.Body)
}

// ValidationError reports a request rejected by its validator.
type ValidationError struct {
	Request AlertRequest
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("alert request rejected by validator: {type: %s, from: %s, to: %s}",
		e.Request.AlertType, e.Request.AlertMessage.Sender, e.Request.AlertMessage.Receiver)
}

// Processor validates, builds and sends notifications for one channel type.
type Processor struct {
	validator Validator
	sender    sender.Sender
	build     Builder
}

// New creates a processor from its validator, sender and builder.
func New(validator Validator, s sender.Sender, build Builder) *Processor {
	return &Processor{
		validator: validator,
		sender:    s,
		build:     build,
	}
}

// Process runs validate → build → send for req.
// A rejected request returns *ValidationError and nothing is sent.
// Sender errors are logged and returned unchanged.
func (p *Processor) Process(ctx context.Context, req AlertRequest) error {
	if !p.validator.Validate(ctx, req) {
		return &ValidationError{Request: req}
	}

	n := p.build(req.AlertMessage)

	if err := p.sender.Send(ctx, n); err != nil {
		slog.Error("Alert sender failed",
			"alert_type", req.AlertType,
			"notification_id", n.NotificationID(),
			"error", err,
		)
		return err
	}
	return nil
}
