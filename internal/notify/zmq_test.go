package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/pkg/log"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		kind events.Kind
		want string
	}{
		{events.KindSolution, TopicSolution},
		{events.KindSubmission, TopicLanded},
		{events.KindSubmissionFailed, TopicFailed},
		{events.KindClaim, TopicClaim},
		{events.KindCycle, ""},
		{events.KindRegistration, ""},
	}

	for _, tt := range tests {
		if got := TopicFor(tt.kind); got != tt.want {
			t.Errorf("TopicFor(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestPublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ZMQ socket test in short mode")
	}

	const endpoint = "inproc://goore-notify-test"

	pub, err := NewPublisher(endpoint, log.Discard())
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer pub.Close()

	sub, err := NewSubscriber(endpoint, log.Discard())
	if err != nil {
		t.Fatalf("NewSubscriber() error = %v", err)
	}
	defer sub.Close()
	if err := sub.Subscribe(TopicLanded); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *events.Event, 1)
	errDone := errors.New("done")
	listenDone := make(chan struct{})
	defer func() {
		cancel()
		<-listenDone
	}()
	go func() {
		defer close(listenDone)
		_ = sub.Listen(ctx, func(topic string, e *events.Event) error {
			if topic != TopicLanded {
				t.Errorf("received topic %s", topic)
			}
			select {
			case received <- e:
			default:
			}
			return errDone
		})
	}()

	landed := events.New(events.KindSubmission)
	landed.Signature = "sig-1"

	// PUB drops messages until the subscription propagates, so keep publishing.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case e := <-received:
			if e.Signature != "sig-1" {
				t.Errorf("Signature = %s", e.Signature)
			}
			return
		case <-ticker.C:
			_ = pub.Record(ctx, events.New(events.KindCycle))
			if err := pub.Record(ctx, landed); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
		case <-ctx.Done():
			t.Fatal("no notification received")
		}
	}
}
