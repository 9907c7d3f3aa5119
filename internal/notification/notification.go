// Package notification defines the typed notifications built for each delivery channel.
package notification

import (
	"fmt"

	"github.com/google/uuid"
)

// Channel tags understood by the dispatcher.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Notification is a message ready to be handed to a channel sender.
type Notification interface {
	// NotificationID returns the process-unique identifier of the notification.
	NotificationID() string
	// Channel returns the channel tag the notification belongs to.
	Channel() string
}

// Email is an email notification.
type Email struct {
	ID       string
	Sender   string
	Receiver string
	Subject  string
	Body     any
}

// SMS is a text message notification.
type SMS struct {
	ID       string
	Sender   string
	Receiver string
	Body     any
}

// NewEmail creates an email notification with a freshly generated ID.
func NewEmail(sender, receiver, subject string, body any) *Email {
	return &Email{
		ID:       NewID(),
		Sender:   sender,
		Receiver: receiver,
		Subject:  subject,
		Body:     body,
	}
}

// NewSMS creates an SMS notification with a freshly generated ID.
func NewSMS(sender, receiver string, body any) *SMS {
	return &SMS{
		ID:       NewID(),
		Sender:   sender,
		Receiver: receiver,
		Body:     body,
	}
}

func (e *Email) NotificationID() string { return e.ID }
func (e *Email) Channel() string        { return ChannelEmail }

func (e *Email) String() string {
	return fmt.Sprintf("Email{id: %s, from: %s, to: %s, subject: %s}", e.ID, e.Sender, e.Receiver, e.Subject)
}

func (s *SMS) NotificationID() string { return s.ID }
func (s *SMS) Channel() string        { return ChannelSMS }

func (s *SMS) String() string {
	return fmt.Sprintf("SMS{id: %s, from: %s, to: %s}", s.ID, s.Sender, s.Receiver)
}

// NewID returns a time-ordered identifier.
// UUIDv7 carries a millisecond timestamp plus a monotonic sequence and random bits,
// so IDs created concurrently within the same clock tick stay distinct.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source fails.
		return uuid.NewString()
	}
	return id.String()
}

var (
	_ Notification = (*Email)(nil)
	_ Notification = (*SMS)(nil)
)
