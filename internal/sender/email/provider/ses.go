package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const sesCharset = "UTF-8"

// SESProvider delivers alert emails through the AWS SES v2 API.
type SESProvider struct {
	client *sesv2.Client
	region string
}

// NewSESProvider builds an SES client for region using the default AWS
// credential chain. An empty region, or a config that fails to load, leaves
// the provider unconfigured.
func NewSESProvider(ctx context.Context, region string) *SESProvider {
	p := &SESProvider{region: region}
	if region == "" {
		return p
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Warn("SES disabled: cannot load AWS config", "region", region, "error", err)
		return p
	}
	p.client = sesv2.NewFromConfig(cfg)
	slog.Info("SES email provider ready", "region", region)
	return p
}

func (p *SESProvider) Name() string       { return "ses" }
func (p *SESProvider) IsConfigured() bool { return p.client != nil }

// Send submits req as a plain-text SES message.
func (p *SESProvider) Send(ctx context.Context, req *EmailRequest) error {
	if err := checkRequest(p.Name(), p.client != nil, req); err != nil {
		return err
	}

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination:      &types.Destination{ToAddresses: req.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: sesContent(req.Subject),
				Body:    &types.Body{Text: sesContent(req.Body)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses: send notification %s: %w", req.NotificationID, err)
	}

	slog.Debug("SES accepted email",
		"notification_id", req.NotificationID,
		"message_id", aws.ToString(out.MessageId),
		"recipients", len(req.To),
	)
	return nil
}

func sesContent(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String(sesCharset)}
}
