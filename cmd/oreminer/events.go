package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/messaging"
	"github.com/bardlex/goore/internal/notify"
)

// lineWriter serializes output lines from concurrent consumers.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func runEvents(c *cli.Context) error {
	m := meta(c)
	out := &lineWriter{w: c.App.Writer}

	ctx, stop := signalContext()
	defer stop()

	var err error
	switch endpoint := c.String("zmq"); {
	case endpoint != "":
		err = tailZMQ(ctx, endpoint, out, m)
	case len(m.cfg.KafkaBrokers) > 0:
		err = tailKafka(ctx, c.String("kafka-group"), out, m)
	default:
		return fmt.Errorf("either --zmq or KAFKA_BROKERS is required")
	}
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func tailZMQ(ctx context.Context, endpoint string, out *lineWriter, m *metadata) error {
	sub, err := notify.NewSubscriber(endpoint, m.logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	if err := sub.Subscribe(""); err != nil {
		return err
	}
	return sub.Listen(ctx, func(topic string, e *events.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		out.printf("%s %s\n", topic, data)
		return nil
	})
}

func tailKafka(ctx context.Context, group string, out *lineWriter, m *metadata) error {
	client := messaging.NewKafkaClient(m.cfg.KafkaBrokers, m.logger)
	defer client.Close()

	handler := messaging.HandlerFunc(func(_ context.Context, key string, msg proto.Message) error {
		data, err := protojson.Marshal(msg)
		if err != nil {
			return err
		}
		out.printf("%s %s\n", key, data)
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range messaging.Topics {
		g.Go(func() error {
			return client.StartConsumer(gctx, topic, group, messaging.NewEventMessage, handler)
		})
	}
	return g.Wait()
}
