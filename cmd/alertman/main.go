package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anirbanroydas/alertman/internal/config"
	"github.com/anirbanroydas/alertman/internal/metrics"
)

const serviceName = "alertman"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger())

	slog.Info("Starting alertman worker",
		"broker", cfg.BrokerConnection().Redacted(),
		"queue", cfg.Alerts.Queue,
		"exchange", cfg.Alerts.Exchange,
		"exchange_type", cfg.Alerts.ExchangeType,
		"binding_key", cfg.Alerts.BindingKey,
		"prefetch", cfg.Alerts.Prefetch,
		"email_provider", cfg.Email.Provider,
		"task_timeout", cfg.TaskTimeout,
		"sender_max_retries", cfg.SenderMaxRetries,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = connectRedis(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, metrics reporting and suppression disabled", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
			slog.Info("Connected to Redis", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		}
	}

	collector := metrics.NewCollector(serviceName, nil)
	if rdb != nil {
		collector = metrics.NewCollector(serviceName, rdb)
		collector.Start(ctx)
		defer collector.Stop()
	}

	w, err := newWorker(ctx, cfg, rdb, collector)
	if err != nil {
		slog.Error("Failed to initialize worker", "error", err)
		os.Exit(1)
	}
	defer w.Close()

	slog.Info("Starting alert dispatch loop")
	w.Run(ctx)

	slog.Info("Alertman worker stopped")
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
