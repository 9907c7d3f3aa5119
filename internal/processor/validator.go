package processor

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Validator decides whether a request may be delivered.
// Implementations must not modify the request.
type Validator interface {
	Validate(ctx context.Context, req AlertRequest) bool
}

// AcceptAll accepts every request.
type AcceptAll struct{}

// Validate always returns true.
func (AcceptAll) Validate(context.Context, AlertRequest) bool { return true }

// SuppressionKeyPrefix prefixes the per-channel Redis sets of suppressed receivers.
const SuppressionKeyPrefix = "alertman:suppressed:"

// SetChecker is the subset of the Redis client used by Suppression.
type SetChecker interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
}

// Suppression rejects requests whose receiver is on the channel's suppression list.
// Lookup errors fail open so an unavailable Redis never blocks delivery.
type Suppression struct {
	redis SetChecker
	next  Validator
}

// NewSuppression wraps next with a suppression-list check.
func NewSuppression(client SetChecker, next Validator) *Suppression {
	if next == nil {
		next = AcceptAll{}
	}
	return &Suppression{redis: client, next: next}
}

// Validate returns false when the receiver is suppressed, otherwise defers to the wrapped validator.
func (s *Suppression) Validate(ctx context.Context, req AlertRequest) bool {
	key := SuppressionKeyPrefix + req.AlertType
	suppressed, err := s.redis.SIsMember(ctx, key, req.AlertMessage.Receiver).Result()
	if err != nil {
		slog.Warn("Suppression lookup failed, accepting request",
			"alert_type", req.AlertType,
			"key", key,
			"error", err,
		)
		return s.next.Validate(ctx, req)
	}
	if suppressed {
		slog.Info("Receiver is suppressed",
			"alert_type", req.AlertType,
			"receiver", req.AlertMessage.Receiver,
		)
		return false
	}
	return s.next.Validate(ctx, req)
}
