package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/goore/internal/events"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		kind events.Kind
		want string
	}{
		{events.KindCycle, TopicCycles},
		{events.KindSolution, TopicSolutions},
		{events.KindSubmission, TopicSubmissions},
		{events.KindSubmissionFailed, TopicSubmissions},
		{events.KindRegistration, TopicAccounts},
		{events.KindClaim, TopicAccounts},
	}

	for _, tt := range tests {
		if got := TopicFor(tt.kind); got != tt.want {
			t.Errorf("TopicFor(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

type published struct {
	topic string
	key   string
	proto proto.Message
	json  []byte
}

type mockPublisher struct {
	messages []published
	closed   bool
}

func (m *mockPublisher) PublishProto(_ context.Context, topic, key string, msg proto.Message) error {
	m.messages = append(m.messages, published{topic: topic, key: key, proto: msg})
	return nil
}

func (m *mockPublisher) PublishJSON(_ context.Context, topic, key string, data []byte) error {
	m.messages = append(m.messages, published{topic: topic, key: key, json: data})
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

func TestEventSink_Proto(t *testing.T) {
	pub := &mockPublisher{}
	sink := newEventSink(pub, "bogus")

	event := events.Solution("signer1", [32]byte{2}, 5, 10, time.Millisecond)
	if err := sink.Record(context.Background(), event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	got := pub.messages[0]
	if got.topic != TopicSolutions || got.key != "signer1" {
		t.Errorf("published to %s/%s", got.topic, got.key)
	}
	s, ok := got.proto.(*structpb.Struct)
	if !ok {
		t.Fatalf("published %T, want *structpb.Struct", got.proto)
	}
	if s.GetFields()["nonce"].GetNumberValue() != 5 {
		t.Errorf("nonce = %v", s.GetFields()["nonce"])
	}

	if err := sink.Close(); err != nil || !pub.closed {
		t.Error("Close() did not close the client")
	}
}

func TestEventSink_JSON(t *testing.T) {
	pub := &mockPublisher{}
	sink := newEventSink(pub, EncodingJSON)

	event := events.New(events.KindClaim)
	event.Amount = 42
	if err := sink.Record(context.Background(), event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	var decoded events.Event
	if err := json.Unmarshal(pub.messages[0].json, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Amount != 42 || decoded.Kind != events.KindClaim {
		t.Errorf("decoded %+v", decoded)
	}
	if pub.messages[0].topic != TopicAccounts {
		t.Errorf("topic = %s", pub.messages[0].topic)
	}
}

func BenchmarkEventEncode(b *testing.B) {
	event := events.Solution("signer", [32]byte{3}, 1, 1, time.Second)

	for b.Loop() {
		msg, err := event.Struct()
		if err != nil {
			b.Fatal(err)
		}
		if _, err := proto.Marshal(msg); err != nil {
			b.Fatal(err)
		}
	}
}
