// Command alert-publisher publishes test alert events to the alerts exchange.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/config"
	"github.com/anirbanroydas/alertman/internal/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger())

	var (
		alertTypes string
		message    string
		jsonBody   bool
		routingKey string
		count      int
	)
	flag.StringVar(&alertTypes, "types", "email,sms", "Alert types to request (comma-separated)")
	flag.StringVar(&message, "message", "Transaction flagged as possible fraud", "Alert message body")
	flag.BoolVar(&jsonBody, "json", false, "Parse -message as a JSON value instead of sending it as a string")
	flag.StringVar(&routingKey, "routing-key", cfg.Alerts.BindingKey, "Routing key to publish with")
	flag.IntVar(&count, "count", 1, "Number of events to publish")
	flag.Parse()

	envelope, err := buildEnvelope(alertTypes, message, jsonBody)
	if err != nil {
		slog.Error("Invalid alert message", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := broker.NewClient(cfg.BrokerConnection())
	defer client.Close()

	opts := cfg.ConsumeOptions()
	for i := 0; i < count; i++ {
		if err := client.Publish(ctx, envelope, cfg.Alerts.Exchange, routingKey, opts); err != nil {
			slog.Error("Failed to publish alert", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Published alerts",
		"count", count,
		"exchange", cfg.Alerts.Exchange,
		"routing_key", routingKey,
		"alert_types", envelope.AlertTypes,
	)
}

func buildEnvelope(alertTypes, message string, jsonBody bool) (events.AlertEnvelope, error) {
	var types []string
	for _, t := range strings.Split(alertTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	if types == nil {
		types = []string{}
	}

	env := events.AlertEnvelope{AlertTypes: types, Message: message}
	if jsonBody {
		var body any
		if err := json.Unmarshal([]byte(message), &body); err != nil {
			return events.AlertEnvelope{}, err
		}
		env.Message = body
	}
	return env, nil
}
