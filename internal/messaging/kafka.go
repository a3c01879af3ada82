// Package messaging publishes miner events to Kafka and lets operators tail
// them back out of a topic.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/goore/pkg/circuit"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// Content types stamped on every published message
const (
	ContentTypeProto = "application/x-protobuf"
	ContentTypeJSON  = "application/json"
	headerContent    = "content-type"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaClient publishes events through one shared writer. Each message
// carries its own topic and is keyed by signer, so a signer's events stay
// ordered within a partition.
type KafkaClient struct {
	brokers     []string
	logger      *log.Logger
	writer      messageWriter
	newReader   func(topic, groupID string) messageReader
	breaker     *circuit.Breaker
	retryConfig *retry.Config

	mu      sync.Mutex
	readers []messageReader
}

// NewKafkaClient creates a client for brokers. Nothing dials until the first
// publish or read.
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	k := &KafkaClient{
		brokers: brokers,
		logger:  logger.WithComponent("kafka"),
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchSize:              100,
			BatchTimeout:           10 * time.Millisecond,
			Compression:            kafka.Snappy,
			AllowAutoTopicCreation: true,
		},
		breaker: circuit.New(&circuit.Config{
			Name:            "kafka",
			MaxFailures:     5,
			SuccessRequired: 3,
			Timeout:         15 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.StorageConfig(),
	}
	k.newReader = k.groupReader
	return k
}

func (k *KafkaClient) groupReader(topic, groupID string) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
}

// PublishProto publishes a protobuf message
func (k *KafkaClient) PublishProto(ctx context.Context, topic, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", topic)
	}
	return k.publish(ctx, topic, key, ContentTypeProto, data)
}

// PublishJSON publishes an already encoded JSON message
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, data []byte) error {
	return k.publish(ctx, topic, key, ContentTypeJSON, data)
}

func (k *KafkaClient) publish(ctx context.Context, topic, key, contentType string, data []byte) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: headerContent, Value: []byte(contentType)}},
		Time:    time.Now(),
	}

	return k.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retryConfig, func() error {
			if err := k.writer.WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeMessaging, "publish",
					"failed to publish event").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("size", len(data))
			}
			return nil
		})
	})
}

// MessageHandler handles one consumed event
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, msg proto.Message) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc func(ctx context.Context, key string, msg proto.Message) error

// HandleMessage calls f
func (f HandlerFunc) HandleMessage(ctx context.Context, key string, msg proto.Message) error {
	return f(ctx, key, msg)
}

// StartConsumer reads topic as groupID until ctx is done, decoding each
// message with a fresh value from newMsg. Messages that fail to decode are
// skipped; read failures back off and retry.
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, newMsg func() proto.Message, handler MessageHandler) error {
	reader := k.newReader(topic, groupID)
	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	logger := k.logger.WithFields("topic", topic, "group_id", groupID)
	logger.Info("consumer started")

	for {
		msg := newMsg()
		key, err := k.next(ctx, reader, msg)
		if ctx.Err() != nil {
			logger.Info("consumer stopped")
			return ctx.Err()
		}
		if err != nil {
			logger.WithError(err).Warn("failed to consume event")
			if errors.IsType(err, errors.ErrorTypeValidation) {
				continue
			}
			if err := retry.Sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		if err := handler.HandleMessage(ctx, key, msg); err != nil {
			logger.WithError(err).Warn("handler failed", "key", key)
		}
	}
}

// next reads one message into msg and returns its key
func (k *KafkaClient) next(ctx context.Context, reader messageReader, msg proto.Message) (string, error) {
	m, err := circuit.ExecuteWithResult(ctx, k.breaker, func() (kafka.Message, error) {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			return m, errors.Wrap(err, errors.ErrorTypeMessaging, "read_message",
				"failed to read from Kafka")
		}
		return m, nil
	})
	if err != nil {
		return "", err
	}

	if ct := header(m, headerContent); ct != "" && ct != ContentTypeProto {
		return "", errors.New(errors.ErrorTypeValidation, "decode",
			"event is not protobuf encoded").
			WithContext("content_type", ct).
			WithContext("offset", m.Offset)
	}
	if err := proto.Unmarshal(m.Value, msg); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "decode",
			"failed to unmarshal event").
			WithContext("offset", m.Offset)
	}
	return string(m.Key), nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close closes the writer and every reader opened by StartConsumer
func (k *KafkaClient) Close() error {
	k.mu.Lock()
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()

	var firstErr error
	if err := k.writer.Close(); err != nil {
		firstErr = err
	}
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
