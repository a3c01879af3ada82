package messaging

import (
	"context"
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/telemetry"
	"github.com/bardlex/goore/pkg/errors"
)

// Encoding selects the wire format of published events.
type Encoding string

const (
	EncodingProto Encoding = "proto"
	EncodingJSON  Encoding = "json"
)

// publisher is the subset of KafkaClient the sink needs.
type publisher interface {
	PublishProto(ctx context.Context, topic, key string, msg proto.Message) error
	PublishJSON(ctx context.Context, topic, key string, data []byte) error
	Close() error
}

var _ publisher = (*KafkaClient)(nil)

// EventSink publishes events to Kafka.
type EventSink struct {
	client   publisher
	encoding Encoding
}

var _ telemetry.Sink = (*EventSink)(nil)

// NewEventSink wraps a Kafka client. Unknown encodings fall back to protobuf.
func NewEventSink(client *KafkaClient, encoding Encoding) *EventSink {
	return newEventSink(client, encoding)
}

func newEventSink(client publisher, encoding Encoding) *EventSink {
	if encoding != EncodingJSON {
		encoding = EncodingProto
	}
	return &EventSink{client: client, encoding: encoding}
}

// Name implements telemetry.Sink.
func (s *EventSink) Name() string { return "kafka" }

// Record implements telemetry.Sink.
func (s *EventSink) Record(ctx context.Context, event *events.Event) error {
	topic := TopicFor(event.Kind)

	if s.encoding == EncodingJSON {
		data, err := json.Marshal(event)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal",
				"failed to encode event").WithContext("event_id", event.ID)
		}
		return s.client.PublishJSON(ctx, topic, event.Key(), data)
	}

	msg, err := event.Struct()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "struct_encode",
			"failed to encode event").WithContext("event_id", event.ID)
	}
	return s.client.PublishProto(ctx, topic, event.Key(), msg)
}

// Close implements telemetry.Sink.
func (s *EventSink) Close() error {
	return s.client.Close()
}

// NewEventMessage is the message factory for consuming protobuf-encoded events.
func NewEventMessage() proto.Message {
	return &structpb.Struct{}
}
