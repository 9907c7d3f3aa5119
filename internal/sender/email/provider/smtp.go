package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool // implicit TLS on connect; otherwise STARTTLS when the server offers it
	Timeout  time.Duration
}

// SMTPProvider delivers email over SMTP using go-mail.
// Every Send dials its own connection so concurrent sends never queue behind one session.
type SMTPProvider struct {
	config SMTPConfig
}

// NewSMTPProvider creates a new SMTP provider.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{config: cfg}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// IsConfigured returns true if an SMTP host is set.
func (p *SMTPProvider) IsConfigured() bool {
	return p.config.Host != "" && p.config.Port > 0
}

// Send connects, authenticates and transmits one message.
func (p *SMTPProvider) Send(ctx context.Context, req *EmailRequest) error {
	msg, err := BuildMessage(req)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(p.config.Host, p.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	slog.Debug("Dialing SMTP server",
		"host", p.config.Host,
		"port", p.config.Port,
		"tls", p.config.UseTLS,
		"notification_id", req.NotificationID,
	)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		slog.Error("SMTP send failed",
			"error", err,
			"smtp_server", fmt.Sprintf("%s:%d", p.config.Host, p.config.Port),
			"to", req.To,
			"notification_id", req.NotificationID,
		)
		return fmt.Errorf("SMTP send failed: %w", err)
	}
	return nil
}

func (p *SMTPProvider) clientOptions() []mail.Option {
	opts := []mail.Option{mail.WithPort(p.config.Port)}
	if p.config.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(p.config.Timeout))
	}
	if p.config.UseTLS {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if p.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.config.Username),
			mail.WithPassword(p.config.Password),
		)
	}
	return opts
}

// BuildMessage converts an EmailRequest into a plain-text MIME message.
func BuildMessage(req *EmailRequest) (*mail.Msg, error) {
	if len(req.To) == 0 {
		return nil, fmt.Errorf("no recipients specified")
	}

	m := mail.NewMsg()
	if err := m.From(req.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", req.From, err)
	}
	if err := m.To(req.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient %v: %w", req.To, err)
	}
	m.Subject(req.Subject)
	m.SetBodyString(mail.TypeTextPlain, req.Body)
	return m, nil
}
