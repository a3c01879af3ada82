// Package telemetry fans mining events out to the configured sinks without
// ever blocking the mining loop.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/pkg/log"
)

// DefaultQueueSize bounds the number of events buffered ahead of the sinks.
const DefaultQueueSize = 1024

// Sink receives events. Record is called from a single goroutine.
type Sink interface {
	Name() string
	Record(ctx context.Context, event *events.Event) error
	Close() error
}

// Recorder queues events and delivers them to every sink in the background.
// A full queue drops the event.
type Recorder struct {
	sinks  []Sink
	queue  chan *events.Event
	logger *log.Logger

	timeout time.Duration
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts the delivery worker.
func NewRecorder(logger *log.Logger, queueSize int, sinks ...Sink) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		sinks:   sinks,
		queue:   make(chan *events.Event, queueSize),
		logger:  logger.WithComponent("telemetry"),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event. It never blocks.
func (r *Recorder) Record(event *events.Event) {
	if event == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			r.logger.Warn("telemetry queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Sinks returns the names of the configured sinks.
func (r *Recorder) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		r.deliver(event)
	}
}

func (r *Recorder) deliver(event *events.Event) {
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := sink.Record(ctx, event); err != nil {
			r.logger.Warn("sink rejected event",
				"sink", sink.Name(),
				"kind", event.Kind,
				"error", err,
			)
		}
		cancel()
	}
}

// Close drains the queue and closes every sink.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done

	var lastErr error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil {
			r.logger.Error("failed to close sink", "sink", sink.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}
