// Package influx records miner time series: hashrate per signer, submission
// outcomes and claimed rewards.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/bardlex/goore/internal/events"
)

// Measurements
const (
	MeasurementSolutions   = "solutions"
	MeasurementSubmissions = "submissions"
	MeasurementClaims      = "claims"
	MeasurementCycles      = "cycles"
)

// Client writes miner events as InfluxDB points through the batching write API
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient connects to InfluxDB and fails unless the server reports healthy
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(uint(10*time.Second/time.Millisecond)).
			SetPrecision(time.Millisecond))

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health reports an error unless the server status is "pass"
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		var msg string
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb status %s: %s", health.Status, msg)
	}
	return nil
}

// Errors exposes asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// PointFromEvent converts an event to a point. Kinds without a measurement return nil.
func PointFromEvent(e *events.Event) *write.Point {
	switch e.Kind {
	case events.KindSolution:
		return write.NewPoint(MeasurementSolutions,
			map[string]string{"signer": e.Signer},
			map[string]any{
				"hashrate":   e.Hashrate(),
				"attempts":   int64(e.Attempts),
				"elapsed_ms": e.Elapsed.Milliseconds(),
				"count":      1,
			}, e.Time)

	case events.KindSubmission, events.KindSubmissionFailed:
		status := "landed"
		if e.Kind == events.KindSubmissionFailed {
			status = "failed"
		}
		tags := map[string]string{
			"operation": e.Operation,
			"strategy":  e.Strategy,
			"status":    status,
		}
		if e.Bus >= 0 {
			tags["bus"] = fmt.Sprintf("%d", e.Bus)
		}
		return write.NewPoint(MeasurementSubmissions, tags,
			map[string]any{
				"signers": e.Signers,
				"count":   1,
			}, e.Time)

	case events.KindClaim:
		return write.NewPoint(MeasurementClaims,
			map[string]string{"signer": e.Signer},
			map[string]any{
				"amount": int64(e.Amount),
				"count":  1,
			}, e.Time)

	case events.KindCycle:
		return write.NewPoint(MeasurementCycles,
			map[string]string{},
			map[string]any{
				"cycle":       int64(e.Cycle),
				"signers":     e.Signers,
				"reward_rate": int64(e.RewardRate),
			}, e.Time)

	default:
		return nil
	}
}

// Record writes the point for an event. Writes are batched and asynchronous.
func (c *Client) Record(_ context.Context, e *events.Event) error {
	if p := PointFromEvent(e); p != nil {
		c.writeAPI.WritePoint(p)
	}
	return nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
