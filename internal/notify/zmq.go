// Package notify broadcasts solutions, landings and claims on a ZeroMQ PUB
// socket so local tooling can react without polling the chain.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/telemetry"
	"github.com/bardlex/goore/pkg/log"
)

// Topics published by the notifier
const (
	TopicSolution = "solution"
	TopicLanded   = "landed"
	TopicFailed   = "failed"
	TopicClaim    = "claim"
)

// TopicFor returns the notification topic of an event, or "" when the event
// is not broadcast.
func TopicFor(kind events.Kind) string {
	switch kind {
	case events.KindSolution:
		return TopicSolution
	case events.KindSubmission:
		return TopicLanded
	case events.KindSubmissionFailed:
		return TopicFailed
	case events.KindClaim:
		return TopicClaim
	default:
		return ""
	}
}

// Publisher is a bound PUB socket
type Publisher struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

var _ telemetry.Sink = (*Publisher)(nil)

// NewPublisher binds a PUB socket on endpoint, e.g. tcp://127.0.0.1:28332
func NewPublisher(endpoint string, logger *log.Logger) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ linger: %w", err)
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to bind ZMQ endpoint %s: %w", endpoint, err)
	}

	logger = logger.WithComponent("notify")
	logger.Info("publishing notifications", "endpoint", endpoint)

	return &Publisher{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Name implements telemetry.Sink
func (p *Publisher) Name() string { return "zmq" }

// Record publishes the event as a two-frame message: topic, JSON body.
func (p *Publisher) Record(_ context.Context, e *events.Event) error {
	topic := TopicFor(e.Kind)
	if topic == "" {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if _, err := p.socket.SendMessageDontwait(topic, body); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", topic, err)
	}

	p.logger.Debug("published notification", "topic", topic, "size", len(body))
	return nil
}

// Close closes the ZMQ socket
func (p *Publisher) Close() error {
	if p.socket != nil {
		return p.socket.Close()
	}
	return nil
}

// Subscriber receives notifications from a Publisher
type Subscriber struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewSubscriber connects a SUB socket to endpoint
func NewSubscriber(endpoint string, logger *log.Logger) (*Subscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}
	if err := socket.SetRcvtimeo(250 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to set ZMQ receive timeout: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", endpoint, err)
	}

	return &Subscriber{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("notify"),
	}, nil
}

// Subscribe subscribes to a topic; "" subscribes to everything
func (s *Subscriber) Subscribe(topic string) error {
	if err := s.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	return nil
}

// Listen delivers decoded notifications to handler until ctx is done
func (s *Subscriber) Listen(ctx context.Context, handler func(topic string, e *events.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			s.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}

		if len(msg) < 2 {
			s.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		var e events.Event
		if err := json.Unmarshal(msg[1], &e); err != nil {
			s.logger.Warn("received undecodable notification", "topic", topic, "error", err)
			continue
		}

		if err := handler(topic, &e); err != nil {
			s.logger.Error("failed to handle notification", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (s *Subscriber) Close() error {
	if s.socket != nil {
		return s.socket.Close()
	}
	return nil
}
