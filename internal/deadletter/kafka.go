package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// writeTimeout is the maximum time to wait for a Kafka write operation.
	writeTimeout = 10 * time.Second

	// ContentType is the content-type header of records written by KafkaSink.
	ContentType = "application/x-protobuf; messageType=google.protobuf.Struct"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes records to a Kafka topic as protobuf-encoded google.protobuf.Struct values,
// keyed by alert type.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaSink creates a synchronous, at-least-once writer for topic on the comma-separated brokers.
func NewKafkaSink(brokers, topic string) (*KafkaSink, error) {
	brokerList := ParseBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokerList...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           writeTimeout,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	slog.Info("Kafka dead-letter sink configured",
		"brokers", brokerList,
		"topic", topic,
		"write_timeout", writeTimeout,
		"required_acks", "RequireOne",
	)
	return NewKafkaSinkWithWriter(writer, topic), nil
}

// NewKafkaSinkWithWriter creates a sink around an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

// Write encodes records and writes them in one batch.
func (s *KafkaSink) Write(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		value, err := EncodeRecord(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.AlertType()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "content-type", Value: []byte(ContentType)},
				{Key: "alert_type", Value: []byte(r.AlertType())},
				{Key: "delivery_tag", Value: []byte(strconv.FormatUint(r.DeliveryTag, 10))},
			},
			Time: r.FailedAt,
		})
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		slog.Error("Failed to write dead-letter records to Kafka",
			"topic", s.topic,
			"count", len(msgs),
			"error", err,
		)
		return fmt.Errorf("failed to write dead-letter records to Kafka: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	slog.Info("Closing Kafka dead-letter sink", "topic", s.topic)
	return s.writer.Close()
}

// EncodeRecord marshals r as a google.protobuf.Struct.
func EncodeRecord(r Record) ([]byte, error) {
	// Round-trip through JSON so the field names and value types match the AMQP representation.
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	raw, err := st.MarshalJSON()
	if err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// ParseBrokers parses a comma-separated broker list and drops empty entries.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
