package dispatcher

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/events"
	"github.com/anirbanroydas/alertman/internal/notification"
	"github.com/anirbanroydas/alertman/internal/processor"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeAcknowledger struct {
	log *eventLog
}

func (a fakeAcknowledger) Ack(uint64, bool) error {
	a.log.add("ack")
	return nil
}

func (a fakeAcknowledger) Nack(uint64, bool, bool) error { return nil }
func (a fakeAcknowledger) Reject(uint64, bool) error     { return nil }

func newMessage(body string, log *eventLog) *broker.Message {
	return broker.NewMessage(amqp.Delivery{
		Acknowledger: fakeAcknowledger{log: log},
		DeliveryTag:  1,
		Body:         []byte(body),
	}, false)
}

type fakeSender struct {
	mu   sync.Mutex
	name string
	log  *eventLog
	err  error
	// hook runs before the send completes; its error replaces err.
	hook func(ctx context.Context) error
	sent []notification.Notification
}

func (s *fakeSender) Send(ctx context.Context, n notification.Notification) error {
	if s.hook != nil {
		if err := s.hook(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	if s.log != nil {
		s.log.add(s.name)
	}
	return s.err
}

func (s *fakeSender) notifications() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Notification(nil), s.sent...)
}

type rejectAll struct{}

func (rejectAll) Validate(context.Context, processor.AlertRequest) bool { return false }

type recordingPolicy struct {
	mu       sync.Mutex
	log      *eventLog
	err      error
	failures []Failure
	calls    int
}

func (p *recordingPolicy) HandleFailures(_ context.Context, _ *broker.Message, _ *events.AlertEnvelope, failures []Failure) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.failures = append(p.failures, failures...)
	if p.log != nil {
		p.log.add("policy")
	}
	return p.err
}

func (p *recordingPolicy) snapshot() (int, []Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]Failure(nil), p.failures...)
}
