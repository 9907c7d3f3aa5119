package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ResendProvider delivers alert emails through the Resend HTTP API.
type ResendProvider struct {
	client *resend.Client
}

// NewResendProvider returns a provider authenticated with apiKey.
// An empty key leaves it unconfigured.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		return &ResendProvider{}
	}
	return &ResendProvider{client: resend.NewClient(apiKey)}
}

func (p *ResendProvider) Name() string       { return "resend" }
func (p *ResendProvider) IsConfigured() bool { return p.client != nil }

// Send submits req as a plain-text Resend email.
func (p *ResendProvider) Send(ctx context.Context, req *EmailRequest) error {
	if err := checkRequest(p.Name(), p.client != nil, req); err != nil {
		return err
	}

	sent, err := p.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Body,
	})
	if err != nil {
		return fmt.Errorf("resend: send notification %s: %w", req.NotificationID, err)
	}

	slog.Debug("Resend accepted email",
		"notification_id", req.NotificationID,
		"email_id", sent.Id,
		"recipients", len(req.To),
	)
	return nil
}
