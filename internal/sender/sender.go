// Package sender defines the delivery capability shared by every notification channel.
package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/anirbanroydas/alertman/internal/notification"
)

// Sender delivers one built notification over its channel.
type Sender interface {
	Send(ctx context.Context, n notification.Notification) error
}

// Func adapts a plain function to the Sender interface.
type Func func(ctx context.Context, n notification.Notification) error

// Send calls f(ctx, n).
func (f Func) Send(ctx context.Context, n notification.Notification) error {
	return f(ctx, n)
}

// DeliveryError reports a failed transport call for a notification.
type DeliveryError struct {
	Channel        string
	NotificationID string
	Op             string
	TimedOut       bool
	Err            error
}

func (e *DeliveryError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s delivery of %s timed out: %v", e.Channel, e.NotificationID, e.Err)
	}
	return fmt.Sprintf("%s delivery of %s failed during %s: %v", e.Channel, e.NotificationID, e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError wraps err for notification n. An err that already is a DeliveryError is returned as is.
func NewDeliveryError(n notification.Notification, op string, err error) error {
	var de *DeliveryError
	if errors.As(err, &de) {
		return err
	}
	d := &DeliveryError{Op: op, Err: err}
	if n != nil {
		d.Channel = n.Channel()
		d.NotificationID = n.NotificationID()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		d.TimedOut = true
	}
	return d
}
