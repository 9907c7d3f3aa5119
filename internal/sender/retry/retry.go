// Package retry provides retry logic with exponential backoff for transient delivery failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/anirbanroydas/alertman/internal/notification"
	"github.com/anirbanroydas/alertman/internal/sender"
)

// Config bounds retries. MaxRetries counts attempts after the first; zero disables retrying.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig is three retries from 100ms doubling up to 5s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

var (
	permanentMarkers = []string{
		"not verified",
		"validation error",
		"invalid",
		"malformed",
		"recipient is required",
		"no recipients",
		"not configured",
		"not valid utf-8",
	}
	transientMarkers = []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary",
		"rate limit",
		"throttl",
		"502",
		"503",
		"504",
		"too many requests",
		"try again",
		"unavailable",
	}
)

// IsRetryable reports whether err looks transient.
// Context errors never are: the caller's deadline or shutdown already decided.
// Network timeouts are. Anything else is judged by its message, and unknown errors are not retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, permanentMarkers) {
		return false
	}
	return containsAny(msg, transientMarkers)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WithRetry calls fn until it succeeds, returns a permanent error, runs out of
// attempts, or ctx is done. The last error is returned.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func() error) error {
	log := slog.With("operation", operation)

	for attempt := 0; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			if attempt > 0 {
				log.Info("Succeeded after retry", "attempts", attempt+1)
			}
			return nil
		case !IsRetryable(err):
			log.Debug("Permanent failure, not retrying", "error", err)
			return err
		case attempt >= cfg.MaxRetries:
			log.Warn("Giving up after retries", "attempts", attempt+1, "error", err)
			return err
		}

		wait := Backoff(cfg, attempt)
		log.Warn("Transient failure, retrying",
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"backoff", wait,
			"error", err,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// Backoff returns the delay before retry number attempt (0-based), with ±25% jitter.
func Backoff(cfg Config, attempt int) time.Duration {
	d := math.Min(
		float64(cfg.InitialBackoff)*math.Pow(cfg.BackoffFactor, float64(attempt)),
		float64(cfg.MaxBackoff),
	)
	d += d * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(d)
}

// Sender retries transient failures of the wrapped sender.
type Sender struct {
	next sender.Sender
	cfg  Config
}

// Wrap returns next decorated with retries, or next itself when cfg allows no retries.
func Wrap(next sender.Sender, cfg Config) sender.Sender {
	if cfg.MaxRetries <= 0 {
		return next
	}
	return &Sender{next: next, cfg: cfg}
}

// Send delivers n, retrying transient failures with backoff.
func (s *Sender) Send(ctx context.Context, n notification.Notification) error {
	operation := fmt.Sprintf("send_%s_%s", n.Channel(), n.NotificationID())
	return WithRetry(ctx, s.cfg, operation, func() error {
		return s.next.Send(ctx, n)
	})
}
