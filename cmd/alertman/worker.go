package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/config"
	"github.com/anirbanroydas/alertman/internal/deadletter"
	"github.com/anirbanroydas/alertman/internal/dispatcher"
	"github.com/anirbanroydas/alertman/internal/metrics"
	"github.com/anirbanroydas/alertman/internal/notification"
	"github.com/anirbanroydas/alertman/internal/processor"
	"github.com/anirbanroydas/alertman/internal/sender"
	"github.com/anirbanroydas/alertman/internal/sender/email"
	"github.com/anirbanroydas/alertman/internal/sender/email/provider"
	"github.com/anirbanroydas/alertman/internal/sender/retry"
	"github.com/anirbanroydas/alertman/internal/sender/sms"
)

// reconnectBackoff paces broker reconnects; MaxRetries is unused.
var reconnectBackoff = retry.Config{
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
}

// stableSession is how long a broker session must last before the reconnect backoff resets.
const stableSession = time.Minute

type worker struct {
	cfg        config.Config
	dispatcher *dispatcher.Dispatcher
	dial       broker.Dialer
	closers    []io.Closer
}

func newWorker(ctx context.Context, cfg config.Config, rdb *redis.Client, rec metrics.Recorder) (*worker, error) {
	w := &worker{cfg: cfg, dial: broker.DialAMQP}

	emailSender, err := newEmailSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	smsSender := newSMSSender(cfg)

	policy, err := w.newFailurePolicy(rec)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.SenderMaxRetries

	d, err := dispatcher.New(dispatcher.Config{
		Channels: []dispatcher.Channel{
			{
				Tag:       notification.ChannelEmail,
				Validator: newValidator(rdb),
				Sender:    retry.Wrap(emailSender, retryCfg),
				Build:     processor.BuildEmail,
				Routing: dispatcher.Routing{
					Sender:   cfg.FraudEmail.From,
					Receiver: cfg.FraudEmail.To,
					Subject:  cfg.FraudEmail.Subject,
				},
			},
			{
				Tag:       notification.ChannelSMS,
				Validator: newValidator(rdb),
				Sender:    retry.Wrap(smsSender, retryCfg),
				Build:     processor.BuildSMS,
				Routing: dispatcher.Routing{
					Sender:   cfg.FraudSMS.From,
					Receiver: cfg.FraudSMS.To,
				},
			},
		},
		TaskTimeout: cfg.TaskTimeout,
		Policy:      policy,
		Metrics:     rec,
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	w.dispatcher = d
	return w, nil
}

func newEmailSender(ctx context.Context, cfg config.Config) (sender.Sender, error) {
	registry := provider.NewRegistry()
	registry.Register(provider.NewSMTPProvider(provider.SMTPConfig{
		Host:     cfg.SMTP.Hostname,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		UseTLS:   cfg.SMTP.UseTLS,
	}))
	registry.Register(provider.NewSESProvider(ctx, cfg.Email.AWSRegion))
	registry.Register(provider.NewResendProvider(cfg.Email.ResendAPIKey))

	if err := registry.SetPrimary(cfg.Email.Provider); err != nil {
		return nil, fmt.Errorf("email provider: %w", err)
	}
	if len(cfg.Email.FallbackProviders) > 0 {
		if err := registry.SetFallback(cfg.Email.FallbackProviders...); err != nil {
			return nil, fmt.Errorf("email fallback providers: %w", err)
		}
	}

	primary, err := registry.GetPrimary()
	if err != nil {
		return nil, err
	}
	slog.Info("Email providers registered",
		"providers", registry.List(),
		"primary", primary.Name(),
		"fallbacks", cfg.Email.FallbackProviders,
	)
	return email.NewSender(registry), nil
}

func newSMSSender(cfg config.Config) sender.Sender {
	if cfg.SMSGatewayURL != "" {
		slog.Info("Using HTTP SMS gateway", "url", cfg.SMSGatewayURL)
		return sms.NewSender(sms.NewHTTPGateway(cfg.SMSGatewayURL))
	}
	slog.Info("Using simulated SMS gateway")
	return sms.NewSender(sms.NewSimulatedGateway())
}

func newValidator(rdb *redis.Client) processor.Validator {
	if rdb == nil {
		return processor.AcceptAll{}
	}
	return processor.NewSuppression(rdb, processor.AcceptAll{})
}

func (w *worker) newFailurePolicy(rec metrics.Recorder) (dispatcher.FailurePolicy, error) {
	dl := w.cfg.DeadLetter
	switch {
	case dl.Exchange != "":
		client := broker.NewClient(w.cfg.BrokerConnection(), broker.WithDialer(w.dial))
		w.closers = append(w.closers, client)
		slog.Info("Dead-lettering failed alerts to exchange",
			"exchange", dl.Exchange,
			"queue", dl.Queue,
			"routing_key", dl.RoutingKey,
		)
		return deadletter.NewPolicy(deadletter.NewAMQPSink(client, dl.Exchange, dl.Queue, dl.RoutingKey), rec), nil
	case dl.KafkaBrokers != "":
		sink, err := deadletter.NewKafkaSink(dl.KafkaBrokers, dl.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("dead-letter sink: %w", err)
		}
		w.closers = append(w.closers, sink)
		slog.Info("Dead-lettering failed alerts to Kafka", "topic", dl.KafkaTopic)
		return deadletter.NewPolicy(sink, rec), nil
	default:
		return dispatcher.LogPolicy{}, nil
	}
}

// Run consumes the alerts queue until ctx is cancelled, reconnecting with backoff whenever the
// broker session ends.
func (w *worker) Run(ctx context.Context) {
	attempt := 0
	for {
		started := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= stableSession {
			attempt = 0
		}

		delay := retry.Backoff(reconnectBackoff, attempt)
		attempt++
		slog.Error("Broker session ended, reconnecting",
			"error", err,
			"attempt", attempt,
			"retry_in", delay,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one consume subscription on a fresh broker connection.
func (w *worker) session(ctx context.Context) error {
	client := broker.NewClient(w.cfg.BrokerConnection(), broker.WithDialer(w.dial))
	defer client.Close()

	sub, err := client.Consume(ctx, w.cfg.Alerts.Queue, w.cfg.Alerts.Exchange, w.dispatcher.HandleMessage, w.cfg.ConsumeOptions())
	if err != nil {
		return err
	}
	if err := sub.Wait(); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return errors.New("subscription ended")
	}
	return nil
}

// Close releases the dead-letter sinks.
func (w *worker) Close() {
	for _, c := range w.closers {
		if err := c.Close(); err != nil {
			slog.Error("Failed to close resource", "error", err)
		}
	}
	w.closers = nil
}
