// Package sms provides SMS notification sending through a carrier gateway.
package sms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anirbanroydas/alertman/internal/notification"
	"github.com/anirbanroydas/alertman/internal/sender"
)

// Message is the gateway-level view of an SMS.
type Message struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Gateway transmits a text message to a carrier.
type Gateway interface {
	Transmit(ctx context.Context, msg Message) error
}

// Sender implements SMS notification sending.
type Sender struct {
	gateway Gateway
}

// NewSender creates a new SMS sender on top of gateway.
func NewSender(gateway Gateway) *Sender {
	return &Sender{gateway: gateway}
}

// Send delivers an *notification.SMS. Gateway failures are logged and returned as *sender.DeliveryError.
func (s *Sender) Send(ctx context.Context, n notification.Notification) error {
	sms, ok := n.(*notification.SMS)
	if !ok {
		return sender.NewDeliveryError(n, "encode", fmt.Errorf("sms sender cannot send %T", n))
	}
	if sms.Receiver == "" {
		return sender.NewDeliveryError(sms, "encode", fmt.Errorf("sms recipient is required"))
	}

	body, err := sender.EncodeBody(sms.Body)
	if err != nil {
		return sender.NewDeliveryError(sms, "encode", err)
	}

	slog.Info("Sending SMS",
		"notification_id", sms.ID,
		"from", sms.Sender,
		"to", sms.Receiver,
	)

	start := time.Now()
	msg := Message{ID: sms.ID, From: sms.Sender, To: sms.Receiver, Body: body}
	if err := s.gateway.Transmit(ctx, msg); err != nil {
		slog.Error("Failed to send SMS",
			"notification_id", sms.ID,
			"to", sms.Receiver,
			"error", err,
		)
		return sender.NewDeliveryError(sms, "gateway", err)
	}

	slog.Info("SMS sent successfully",
		"notification_id", sms.ID,
		"latency", time.Since(start),
	)
	return nil
}

var _ sender.Sender = (*Sender)(nil)
