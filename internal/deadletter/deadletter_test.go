package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirbanroydas/alertman/internal/broker"
	"github.com/anirbanroydas/alertman/internal/broker/brokertest"
	"github.com/anirbanroydas/alertman/internal/dispatcher"
	"github.com/anirbanroydas/alertman/internal/events"
	"github.com/anirbanroydas/alertman/internal/metrics"
	"github.com/anirbanroydas/alertman/internal/processor"
	"github.com/anirbanroydas/alertman/internal/sender"
)

var fixedTime = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

type fakeSink struct {
	records []Record
	err     error
}

func (s *fakeSink) Write(_ context.Context, records []Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testMessage() *broker.Message {
	return broker.NewMessage(amqp.Delivery{
		DeliveryTag: 7,
		Exchange:    "dummy-exchange",
		RoutingKey:  "dummy-alerts",
		Redelivered: true,
	}, true)
}

func testFailures() []dispatcher.Failure {
	return []dispatcher.Failure{
		{
			Request: processor.AlertRequest{AlertType: "sms"},
			Err:     &sender.DeliveryError{Channel: "sms", Op: "process", TimedOut: true, Err: context.DeadlineExceeded},
		},
		{
			Request: processor.AlertRequest{AlertType: "email"},
			Err:     errors.New("smtp refused"),
		},
	}
}

func newTestPolicy(sink Sink, rec metrics.Recorder) *Policy {
	p := NewPolicy(sink, rec)
	p.now = func() time.Time { return fixedTime }
	return p
}

func TestPolicyHandleFailures(t *testing.T) {
	sink := &fakeSink{}
	collector := metrics.NewCollector("test", nil)
	p := newTestPolicy(sink, collector)
	env := &events.AlertEnvelope{AlertTypes: []string{"email", "sms"}, Message: "card 4242 used abroad"}

	require.NoError(t, p.HandleFailures(context.Background(), testMessage(), env, testFailures()))

	require.Len(t, sink.records, 2)
	assert.Equal(t, Record{
		AlertTypes:  []string{"sms"},
		Message:     "card 4242 used abroad",
		Error:       sink.records[0].Error,
		TimedOut:    true,
		DeliveryTag: 7,
		Exchange:    "dummy-exchange",
		RoutingKey:  "dummy-alerts",
		Redelivered: true,
		FailedAt:    fixedTime,
	}, sink.records[0])
	assert.Contains(t, sink.records[0].Error, "timed out")
	assert.Equal(t, "email", sink.records[1].AlertType())
	assert.False(t, sink.records[1].TimedOut)
	assert.Equal(t, "smtp refused", sink.records[1].Error)

	assert.Equal(t, uint64(2), collector.Snapshot().DeadLettered)
}

func TestPolicySinkError(t *testing.T) {
	sinkErr := errors.New("sink down")
	collector := metrics.NewCollector("test", nil)
	p := newTestPolicy(&fakeSink{err: sinkErr}, collector)

	err := p.HandleFailures(context.Background(), testMessage(), &events.AlertEnvelope{}, testFailures())
	require.ErrorIs(t, err, sinkErr)
	assert.Zero(t, collector.Snapshot().DeadLettered)
}

func TestRecordIsReplayableAlert(t *testing.T) {
	r := Record{AlertTypes: []string{"sms"}, Message: map[string]any{"card": "4242"}, Error: "boom", FailedAt: fixedTime}
	body, err := json.Marshal(map[string]any{"message": r})
	require.NoError(t, err)

	env, err := events.ParseEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"sms"}, env.AlertTypes)
	assert.Equal(t, map[string]any{"card": "4242"}, env.Message)
}

func TestAMQPSinkParksRecordsOnQueue(t *testing.T) {
	fake := brokertest.New()
	client := broker.NewClient(broker.Config{Host: "localhost", Port: 5672}, broker.WithDialer(fake.Dial))
	t.Cleanup(func() { _ = client.Close() })

	collector := metrics.NewCollector("test", nil)
	p := newTestPolicy(NewAMQPSink(client, "alerts.dead", "alerts.dead-letter", "failed"), collector)
	env := &events.AlertEnvelope{AlertTypes: []string{"email", "sms"}, Message: "hello"}

	require.NoError(t, p.HandleFailures(context.Background(), testMessage(), env, testFailures()))
	require.NoError(t, p.HandleFailures(context.Background(), testMessage(), env, testFailures()[:1]))

	kind, ok := fake.ExchangeKind("alerts.dead")
	require.True(t, ok)
	assert.Equal(t, "direct", kind)
	assert.Equal(t, []string{"failed"}, fake.Bindings("alerts.dead-letter", "alerts.dead"))
	assert.Equal(t, 1, fake.Calls(brokertest.OpQueueDeclare))

	for _, pub := range fake.Published() {
		assert.Equal(t, amqp.Persistent, pub.Msg.DeliveryMode)
	}

	parked := fake.Queued("alerts.dead-letter")
	require.Len(t, parked, 3, "every record must reach the dead-letter queue")
	assert.EqualValues(t, 3, collector.Snapshot().DeadLettered)

	replayed, err := events.ParseEnvelope(parked[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"sms"}, replayed.AlertTypes)
	assert.Equal(t, "hello", replayed.Message)
}

func TestAMQPSinkDeclareError(t *testing.T) {
	fake := brokertest.New()
	fake.FailOn(brokertest.OpQueueBind, errors.New("access refused"))
	client := broker.NewClient(broker.Config{Host: "localhost", Port: 5672}, broker.WithDialer(fake.Dial))
	t.Cleanup(func() { _ = client.Close() })

	err := NewAMQPSink(client, "alerts.dead", "alerts.dead-letter", "failed").Write(context.Background(), []Record{{AlertTypes: []string{"sms"}}})

	var brokerErr *broker.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "bind", brokerErr.Op)
	assert.Zero(t, fake.Calls(brokertest.OpPublish), "nothing is published without a bound queue")
}

func TestAMQPSinkPublishError(t *testing.T) {
	fake := brokertest.New()
	fake.FailOn(brokertest.OpPublish, errors.New("channel closed"))
	client := broker.NewClient(broker.Config{Host: "localhost", Port: 5672}, broker.WithDialer(fake.Dial))
	t.Cleanup(func() { _ = client.Close() })

	err := NewAMQPSink(client, "alerts.dead", "alerts.dead-letter", "failed").Write(context.Background(), []Record{{AlertTypes: []string{"sms"}}})

	var brokerErr *broker.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "publish", brokerErr.Op)
}

func TestKafkaSinkWrite(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(w, "alerts.dead")
	records := []Record{
		{AlertTypes: []string{"email"}, Message: "hello", Error: "smtp refused", DeliveryTag: 3, FailedAt: fixedTime},
		{AlertTypes: []string{"sms"}, Message: map[string]any{"amount": 12.5}, TimedOut: true, DeliveryTag: 3, FailedAt: fixedTime},
	}

	require.NoError(t, sink.Write(context.Background(), records))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, []byte("email"), w.msgs[0].Key)
	assert.Equal(t, fixedTime, w.msgs[0].Time)
	assert.Contains(t, w.msgs[0].Headers, kafka.Header{Key: "content-type", Value: []byte(ContentType)})
	assert.Contains(t, w.msgs[1].Headers, kafka.Header{Key: "delivery_tag", Value: []byte("3")})

	for i, msg := range w.msgs {
		got, err := DecodeRecord(msg.Value)
		require.NoError(t, err)
		assert.Equal(t, records[i], got)
	}

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSinkWriteError(t *testing.T) {
	writeErr := errors.New("leader not available")
	sink := NewKafkaSinkWithWriter(&fakeWriter{err: writeErr}, "alerts.dead")

	err := sink.Write(context.Background(), []Record{{AlertTypes: []string{"sms"}}})
	assert.ErrorIs(t, err, writeErr)
}

func TestNewKafkaSinkValidation(t *testing.T) {
	_, err := NewKafkaSink("", "alerts.dead")
	assert.Error(t, err)
	_, err = NewKafkaSink("localhost:9092", "")
	assert.Error(t, err)

	sink, err := NewKafkaSink("localhost:9092, localhost:9093", "alerts.dead")
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestParseBrokers(t *testing.T) {
	assert.Nil(t, ParseBrokers(""))
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
}
