// Package dispatcher turns alert events consumed from the broker into per-channel notifications.
//
// Every event is fanned out concurrently to the processors of the channels it names. The broker
// message is acknowledged exactly once, after all tasks settle, whatever their outcome.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/events"
	"github.com/anirbanroydas/alertman/internal/metrics"
	"github.com/anirbanroydas/alertman/internal/processor"
	"github.com/anirbanroydas/alertman/internal/sender"
)

// DefaultTaskTimeout bounds one channel task when Config.TaskTimeout is unset.
const DefaultTaskTimeout = 30 * time.Second

// Routing is the fixed addressing used for every alert on one channel.
type Routing struct {
	Sender   string
	Receiver string
	Subject  string
}

// Channel registers one alert type.
type Channel struct {
	Tag       string
	Validator processor.Validator
	Sender    sender.Sender
	Build     processor.Builder
	Routing   Routing
}

// Config configures a Dispatcher.
type Config struct {
	Channels    []Channel
	TaskTimeout time.Duration
	Policy      FailurePolicy
	Metrics     metrics.Recorder
}

// Dispatcher handles alert messages. It is safe for concurrent use.
type Dispatcher struct {
	processors map[string]*processor.Processor
	routing    map[string]Routing
	timeout    time.Duration
	policy     FailurePolicy
	metrics    metrics.Recorder
}

// New builds a dispatcher from cfg. Tags must be unique and every channel needs a sender and a builder.
func New(cfg Config) (*Dispatcher, error) {
	d := &Dispatcher{
		processors: make(map[string]*processor.Processor, len(cfg.Channels)),
		routing:    make(map[string]Routing, len(cfg.Channels)),
		timeout:    cfg.TaskTimeout,
		policy:     cfg.Policy,
		metrics:    cfg.Metrics,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTaskTimeout
	}
	if d.policy == nil {
		d.policy = LogPolicy{}
	}
	if d.metrics == nil {
		d.metrics = metrics.NoOp{}
	}

	for _, ch := range cfg.Channels {
		if ch.Tag == "" {
			return nil, fmt.Errorf("channel tag cannot be empty")
		}
		if _, dup := d.processors[ch.Tag]; dup {
			return nil, fmt.Errorf("channel %q registered twice", ch.Tag)
		}
		if ch.Sender == nil || ch.Build == nil {
			return nil, fmt.Errorf("channel %q needs a sender and a builder", ch.Tag)
		}
		validator := ch.Validator
		if validator == nil {
			validator = processor.AcceptAll{}
		}
		d.processors[ch.Tag] = processor.New(validator, ch.Sender, ch.Build)
		d.routing[ch.Tag] = ch.Routing
	}
	return d, nil
}

// Processor returns the processor registered for tag.
func (d *Dispatcher) Processor(tag string) (*processor.Processor, bool) {
	p, ok := d.processors[tag]
	if !ok {
		slog.Warn("No processor for alert type", "alert_type", tag)
	}
	return p, ok
}

// HandleMessage decodes msg, dispatches every alert type it names and acknowledges it.
// Errors are logged and never returned; the message is acknowledged in every case.
// Cancelling ctx does not abort tasks already started; they are bounded by the task timeout.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *broker.Message) {
	start := time.Now()
	d.metrics.RecordReceived()
	defer d.ack(msg)

	env, err := events.ParseEnvelope(msg.Body)
	if err != nil {
		d.metrics.RecordMalformed()
		slog.Error("Failed to decode alert message",
			"delivery_tag", msg.DeliveryTag,
			"routing_key", msg.RoutingKey,
			"redelivered", msg.Redelivered,
			"error", err,
		)
		return
	}

	slog.Info("Received alert",
		"delivery_tag", msg.DeliveryTag,
		"alert_types", env.AlertTypes,
	)

	taskCtx := context.WithoutCancel(ctx)
	failures := d.dispatch(taskCtx, env)
	if len(failures) > 0 {
		if err := d.policy.HandleFailures(taskCtx, msg, env, failures); err != nil {
			d.metrics.RecordError()
			slog.Error("Failure policy failed",
				"delivery_tag", msg.DeliveryTag,
				"failed", len(failures),
				"error", err,
			)
		}
	}

	d.metrics.RecordProcessed(time.Since(start))
}

func (d *Dispatcher) ack(msg *broker.Message) {
	if err := msg.Ack(); err != nil {
		d.metrics.RecordError()
		slog.Error("Failed to acknowledge message", "delivery_tag", msg.DeliveryTag, "error", err)
		return
	}
	slog.Debug("Acknowledged message", "delivery_tag", msg.DeliveryTag)
}

// dispatch runs one task per known alert type and waits for all of them.
func (d *Dispatcher) dispatch(ctx context.Context, env *events.AlertEnvelope) []Failure {
	reqs := make([]processor.AlertRequest, len(env.AlertTypes))
	results := make([]error, len(env.AlertTypes))
	started := make([]bool, len(env.AlertTypes))

	var g errgroup.Group
	for i, tag := range env.AlertTypes {
		p, ok := d.Processor(tag)
		if !ok {
			continue
		}
		routing := d.routing[tag]
		reqs[i] = processor.AlertRequest{
			AlertType: tag,
			AlertMessage: processor.AlertMessage{
				Sender:   routing.Sender,
				Receiver: routing.Receiver,
				Subject:  routing.Subject,
				Body:     env.Message,
			},
		}
		started[i] = true
		g.Go(func() error {
			results[i] = d.run(ctx, p, reqs[i])
			return nil
		})
	}
	_ = g.Wait()

	var failures []Failure
	for i, err := range results {
		if !started[i] {
			continue
		}
		tag := reqs[i].AlertType

		var verr *processor.ValidationError
		switch {
		case err == nil:
			d.metrics.RecordSent(tag)
		case errors.As(err, &verr):
			d.metrics.RecordRejected(tag)
			slog.Info("Alert rejected by validator", "alert_type", tag, "error", err)
		default:
			d.metrics.RecordFailed(tag)
			var derr *sender.DeliveryError
			timedOut := errors.As(err, &derr) && derr.TimedOut
			slog.Error("Alert task failed", "alert_type", tag, "timed_out", timedOut, "error", err)
			failures = append(failures, Failure{Request: reqs[i], Err: err})
		}
	}
	return failures
}

// run executes one task with the dispatcher's timeout. A task still running at the deadline is
// abandoned and reported as a timed out DeliveryError; a panicking task is reported as a DeliveryError with Op "panic".
func (d *Dispatcher) run(ctx context.Context, p *processor.Processor, req processor.AlertRequest) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Alert task panicked", "alert_type", req.AlertType, "panic", r, "stack", string(debug.Stack()))
				done <- &sender.DeliveryError{Channel: req.AlertType, Op: "panic", Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		done <- p.Process(ctx, req)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &sender.DeliveryError{
			Channel:  req.AlertType,
			Op:       "process",
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      ctx.Err(),
		}
	}
}
