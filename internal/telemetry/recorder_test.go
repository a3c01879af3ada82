package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/pkg/log"
)

type memorySink struct {
	mu      sync.Mutex
	name    string
	events  []*events.Event
	err     error
	closed  bool
	release chan struct{}
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Record(_ context.Context, e *events.Event) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRecorderFansOut(t *testing.T) {
	a := &memorySink{name: "a"}
	b := &memorySink{name: "b", err: errors.New("down")}
	r := NewRecorder(log.Discard(), 16, a, b)

	for range 5 {
		r.Record(events.New(events.KindCycle))
	}
	r.Record(nil)

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.count() != 5 || b.count() != 5 {
		t.Errorf("delivered a=%d b=%d, want 5 each", a.count(), b.count())
	}
	if !a.closed || !b.closed {
		t.Error("sinks not closed")
	}
	if got := r.Sinks(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Sinks() = %v", got)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &memorySink{name: "slow", release: make(chan struct{})}
	r := NewRecorder(log.Discard(), 2, sink)

	// One event is held by the blocked sink, two fill the queue.
	for range 10 {
		r.Record(events.New(events.KindSolution))
	}
	if r.Dropped() < 7 {
		t.Errorf("Dropped() = %d, want at least 7", r.Dropped())
	}

	close(sink.release)
	_ = r.Close()
	if sink.count()+int(r.Dropped()) != 10 {
		t.Errorf("delivered %d + dropped %d != 10", sink.count(), r.Dropped())
	}
}

func TestRecorderIgnoresAfterClose(t *testing.T) {
	sink := &memorySink{name: "a"}
	r := NewRecorder(log.Discard(), 4, sink)
	_ = r.Close()

	r.Record(events.New(events.KindClaim))
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("recorded %d events after close", sink.count())
	}
}
