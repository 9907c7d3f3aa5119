// Package email provides email notification sending through a provider registry.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anirbanroydas/alertman/internal/notification"
	"github.com/anirbanroydas/alertman/internal/sender"
	"github.com/anirbanroydas/alertman/internal/sender/email/provider"
)

// Transport hands a finished email to a mail system.
// *provider.Registry satisfies it.
type Transport interface {
	Send(ctx context.Context, req *provider.EmailRequest) error
}

// Sender implements email notification sending.
type Sender struct {
	transport Transport
}

// NewSender creates a new email sender on top of transport.
func NewSender(transport Transport) *Sender {
	return &Sender{transport: transport}
}

// Send delivers an *notification.Email.
// Connection, authentication, encoding and transmit failures are logged and returned as *sender.DeliveryError.
func (s *Sender) Send(ctx context.Context, n notification.Notification) error {
	email, ok := n.(*notification.Email)
	if !ok {
		return sender.NewDeliveryError(n, "encode", fmt.Errorf("email sender cannot send %T", n))
	}

	body, err := sender.EncodeBody(email.Body)
	if err != nil {
		slog.Error("Failed to encode email body",
			"notification_id", email.ID,
			"error", err,
		)
		return sender.NewDeliveryError(email, "encode", err)
	}

	recipients := parseRecipients(email.Receiver)
	if len(recipients) == 0 {
		return sender.NewDeliveryError(email, "encode", fmt.Errorf("email recipient is required"))
	}

	slog.Info("Sending email",
		"notification_id", email.ID,
		"from", email.Sender,
		"to", strings.Join(recipients, ", "),
		"subject", email.Subject,
	)

	req := &provider.EmailRequest{
		NotificationID: email.ID,
		From:           email.Sender,
		To:             recipients,
		Subject:        email.Subject,
		Body:           body,
	}
	if err := s.transport.Send(ctx, req); err != nil {
		slog.Error("Failed to send email",
			"notification_id", email.ID,
			"to", strings.Join(recipients, ", "),
			"error", err,
		)
		return sender.NewDeliveryError(email, "transmit", err)
	}

	slog.Info("Email sent successfully", "notification_id", email.ID)
	return nil
}

var _ sender.Sender = (*Sender)(nil)
