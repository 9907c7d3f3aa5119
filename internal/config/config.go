// Package config provides configuration parsing and validation for the alertman worker.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/anirbanroydas/alertman/internal/broker"
)

// Config holds all configuration parameters for the worker.
type Config struct {
	Broker     BrokerConfig     `envPrefix:"MESSAGE_BROKER_SERVICE_"`
	Alerts     AlertsConfig     `envPrefix:"ALERTS_"`
	SMTP       SMTPConfig       `envPrefix:"SMTP_"`
	FraudEmail EmailRoute       `envPrefix:"TRANSACTION_FRAUD_EMAIL_ALERT_"`
	FraudSMS   SMSRoute         `envPrefix:"TRANSACTION_FRAUD_SMS_ALERT_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	DeadLetter DeadLetterConfig `envPrefix:"DEAD_LETTER_"`
	Email      EmailConfig

	SMSGatewayURL    string        `env:"SMS_GATEWAY_URL"`
	TaskTimeout      time.Duration `env:"TASK_TIMEOUT" envDefault:"30s"`
	SenderMaxRetries int           `env:"SENDER_MAX_RETRIES" envDefault:"0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// BrokerConfig locates the RabbitMQ broker.
type BrokerConfig struct {
	Username    string `env:"USERNAME" envDefault:"guest"`
	Password    string `env:"PASSWORD" envDefault:"guest"`
	Host        string `env:"HOST" envDefault:"localhost"`
	Port        int    `env:"PORT" envDefault:"5672"`
	VirtualHost string `env:"VIRTUALHOST" envDefault:"/"`
}

// AlertsConfig is the topology the worker consumes from.
type AlertsConfig struct {
	Queue        string `env:"QUEUE" envDefault:"dummy_alerts_queue"`
	Exchange     string `env:"EXCHANGE" envDefault:"dummy-exchange"`
	ExchangeType string `env:"EXCHANGE_TYPE" envDefault:"topic"`
	BindingKey   string `env:"BINDING_KEY" envDefault:"dummy-alerts"`
	Prefetch     int    `env:"PREFETCH" envDefault:"1"`
}

// SMTPConfig configures the SMTP email provider.
type SMTPConfig struct {
	Hostname string `env:"HOSTNAME"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	UseTLS   bool   `env:"USE_TLS" envDefault:"false"`
}

// EmailConfig selects the email providers.
type EmailConfig struct {
	Provider          string   `env:"EMAIL_PROVIDER" envDefault:"smtp"`
	FallbackProviders []string `env:"EMAIL_FALLBACK_PROVIDERS" envSeparator:","`
	AWSRegion         string   `env:"AWS_REGION"`
	ResendAPIKey      string   `env:"RESEND_API_KEY"`
}

// EmailRoute addresses the fraud email alert.
type EmailRoute struct {
	From    string `env:"FROM"`
	To      string `env:"TO"`
	Subject string `env:"SUBJECT" envDefault:"Transaction Fraud Alert"`
}

// SMSRoute addresses the fraud SMS alert.
type SMSRoute struct {
	From string `env:"FROM" envDefault:"10101010"`
	To   string `env:"TO" envDefault:"010010101"`
}

// RedisConfig locates Redis. An empty Addr disables metrics reporting and suppression.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// DeadLetterConfig selects where failed alerts go. With nothing set failures are only logged.
type DeadLetterConfig struct {
	Exchange     string `env:"EXCHANGE"`
	Queue        string `env:"QUEUE" envDefault:"alerts.dead-letter"`
	RoutingKey   string `env:"ROUTING_KEY" envDefault:"alerts.failed"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"alerts.dead-letter"`
}

var emailProviders = map[string]bool{"smtp": true, "ses": true, "resend": true}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize trims whitespace and normalizes case of enumerated values.
func (c *Config) Sanitize() {
	c.Email.Provider = strings.ToLower(strings.TrimSpace(c.Email.Provider))
	fallbacks := c.Email.FallbackProviders[:0]
	for _, p := range c.Email.FallbackProviders {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			fallbacks = append(fallbacks, p)
		}
	}
	c.Email.FallbackProviders = fallbacks
	c.Alerts.ExchangeType = strings.ToLower(strings.TrimSpace(c.Alerts.ExchangeType))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("MESSAGE_BROKER_SERVICE_HOST cannot be empty")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("MESSAGE_BROKER_SERVICE_PORT must be between 1 and 65535, got %d", c.Broker.Port)
	}
	if c.Alerts.Queue == "" {
		return fmt.Errorf("ALERTS_QUEUE cannot be empty")
	}
	kind, err := broker.ParseExchangeKind(c.Alerts.ExchangeType)
	if err != nil {
		return fmt.Errorf("ALERTS_EXCHANGE_TYPE: %w", err)
	}
	if kind.RequiresBindingKey() && c.Alerts.BindingKey == "" {
		return fmt.Errorf("ALERTS_BINDING_KEY is required for %s exchanges", kind)
	}
	if kind != broker.ExchangeDefault && c.Alerts.Exchange == "" {
		return fmt.Errorf("ALERTS_EXCHANGE cannot be empty for %s exchanges", kind)
	}
	if c.Alerts.Prefetch < 0 {
		return fmt.Errorf("ALERTS_PREFETCH cannot be negative")
	}

	if !emailProviders[c.Email.Provider] {
		return fmt.Errorf("EMAIL_PROVIDER must be one of smtp, ses, resend; got %q", c.Email.Provider)
	}
	for _, p := range c.Email.FallbackProviders {
		if !emailProviders[p] {
			return fmt.Errorf("EMAIL_FALLBACK_PROVIDERS: unknown provider %q", p)
		}
	}
	if c.usesProvider("smtp") && c.SMTP.Hostname == "" {
		return fmt.Errorf("SMTP_HOSTNAME cannot be empty when the smtp provider is used")
	}
	if c.FraudEmail.From == "" {
		return fmt.Errorf("TRANSACTION_FRAUD_EMAIL_ALERT_FROM cannot be empty")
	}
	if c.FraudEmail.To == "" {
		return fmt.Errorf("TRANSACTION_FRAUD_EMAIL_ALERT_TO cannot be empty")
	}

	if c.TaskTimeout <= 0 {
		return fmt.Errorf("TASK_TIMEOUT must be positive")
	}
	if c.SenderMaxRetries < 0 {
		return fmt.Errorf("SENDER_MAX_RETRIES cannot be negative")
	}
	if c.DeadLetter.Exchange != "" && c.DeadLetter.KafkaBrokers != "" {
		return fmt.Errorf("set only one of DEAD_LETTER_EXCHANGE and DEAD_LETTER_KAFKA_BROKERS")
	}
	if c.DeadLetter.Exchange != "" && (c.DeadLetter.Queue == "" || c.DeadLetter.RoutingKey == "") {
		return fmt.Errorf("DEAD_LETTER_QUEUE and DEAD_LETTER_ROUTING_KEY are required with DEAD_LETTER_EXCHANGE")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) usesProvider(name string) bool {
	if c.Email.Provider == name {
		return true
	}
	for _, p := range c.Email.FallbackProviders {
		if p == name {
			return true
		}
	}
	return false
}

// BrokerConnection returns the broker client settings.
func (c *Config) BrokerConnection() broker.Config {
	return broker.Config{
		Username:    c.Broker.Username,
		Password:    c.Broker.Password,
		Host:        c.Broker.Host,
		Port:        c.Broker.Port,
		VirtualHost: c.Broker.VirtualHost,
	}
}

// ConsumeOptions returns the options for consuming the alerts queue: durable exchange and queue,
// manual ack, persistent delivery for anything the worker publishes.
func (c *Config) ConsumeOptions() broker.Options {
	var keys []string
	if c.Alerts.BindingKey != "" {
		keys = []string{c.Alerts.BindingKey}
	}
	return broker.Options{
		ExchangeType:    broker.ExchangeKind(c.Alerts.ExchangeType),
		ExchangeDurable: true,
		QueueDurable:    true,
		BindingKeys:     keys,
		PrefetchCount:   c.Alerts.Prefetch,
		Persistent:      true,
	}
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
	}
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
