// Package redis keeps the live status of every mining identity so external
// dashboards can read the latest solution, submission and hashrate.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/goore/internal/events"
)

const keyPrefix = "goore"

// Daily submission outcome counters
const (
	CounterLanded = "landed"
	CounterFailed = "failed"
)

// HashrateWindow is how long hashrate samples are kept
const HashrateWindow = 10 * time.Minute

// Client wraps Redis operations for signer status
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// StatusTTL expires a signer's status after it stops reporting
	StatusTTL time.Duration
}

// DefaultConfig returns connection settings for url
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		PoolSize:     4,
		MaxRetries:   2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		StatusTTL:    24 * time.Hour,
	}
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb, ttl: cfg.StatusTTL}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SignerKey is the hash holding one signer's status
func SignerKey(signer string) string {
	return fmt.Sprintf("%s:signer:%s", keyPrefix, signer)
}

// HashrateKey is the sorted set of one signer's hashrate samples
func HashrateKey(signer string) string {
	return fmt.Sprintf("%s:hashrate:%s", keyPrefix, signer)
}

// CounterKey is a daily counter for a submission outcome
func CounterKey(name string, day time.Time) string {
	return fmt.Sprintf("%s:counter:%s:%s", keyPrefix, name, day.UTC().Format("2006-01-02"))
}

// StatusFields maps an event to the signer status fields it updates
func StatusFields(e *events.Event) map[string]any {
	ts := e.Time.UTC().Format(time.RFC3339)
	switch e.Kind {
	case events.KindSolution:
		return map[string]any{
			"last_hash":        e.Hash,
			"last_nonce":       strconv.FormatUint(e.Nonce, 10),
			"last_hashrate":    strconv.FormatFloat(e.Hashrate(), 'f', 2, 64),
			"last_solution_at": ts,
		}
	case events.KindSubmission:
		return map[string]any{
			"last_signature":    e.Signature,
			"last_operation":    e.Operation,
			"last_strategy":     e.Strategy,
			"last_bus":          e.Bus,
			"last_submitted_at": ts,
		}
	case events.KindSubmissionFailed:
		return map[string]any{
			"last_error":    e.Error,
			"last_error_at": ts,
		}
	case events.KindClaim:
		return map[string]any{
			"last_claim_amount": strconv.FormatUint(e.Amount, 10),
			"last_claim_at":     ts,
		}
	case events.KindCycle:
		return map[string]any{
			"cycle":         e.Cycle,
			"last_cycle_at": ts,
		}
	default:
		return nil
	}
}

// SetSignerStatus merges fields into a signer's status hash
func (c *Client) SetSignerStatus(ctx context.Context, signer string, fields map[string]any) error {
	key := SignerKey(signer)

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set signer status: %w", err)
	}
	return nil
}

// GetSignerStatus returns a signer's status hash
func (c *Client) GetSignerStatus(ctx context.Context, signer string) (map[string]string, error) {
	status, err := c.rdb.HGetAll(ctx, SignerKey(signer)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get signer status: %w", err)
	}
	return status, nil
}

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// AddHashrate stores a hashrate sample and trims samples older than window
func (c *Client) AddHashrate(ctx context.Context, signer string, hashrate float64, at time.Time, window time.Duration) error {
	key := HashrateKey(signer)

	// Members carry the timestamp so equal rates are kept as separate samples
	member := &redis.Z{
		Score:  float64(at.Unix()),
		Member: fmt.Sprintf("%d:%f", at.UnixNano(), hashrate),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(at.Add(-window).Unix(), 10))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add hashrate: %w", err)
	}
	return nil
}

// GetAverageHashrate averages a signer's samples over a time window
func (c *Client) GetAverageHashrate(ctx context.Context, signer string, window time.Duration) (float64, error) {
	minScore := time.Now().Add(-window).Unix()

	values, err := c.rdb.ZRangeByScore(ctx, HashrateKey(signer), &redis.ZRangeBy{
		Min: strconv.FormatInt(minScore, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	return averageSamples(values), nil
}

func averageSamples(values []string) float64 {
	var total float64
	var n int
	for _, val := range values {
		_, rate, ok := strings.Cut(val, ":")
		if !ok {
			continue
		}
		if hashrate, err := strconv.ParseFloat(rate, 64); err == nil {
			total += hashrate
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Record applies an event to the signer status, hashrate and outcome counters
func (c *Client) Record(ctx context.Context, e *events.Event) error {
	switch e.Kind {
	case events.KindSubmission:
		if _, err := c.IncrementCounter(ctx, CounterKey(CounterLanded, e.Time), 48*time.Hour); err != nil {
			return err
		}
	case events.KindSubmissionFailed:
		if _, err := c.IncrementCounter(ctx, CounterKey(CounterFailed, e.Time), 48*time.Hour); err != nil {
			return err
		}
	case events.KindSolution:
		if err := c.AddHashrate(ctx, e.Signer, e.Hashrate(), e.Time, HashrateWindow); err != nil {
			return err
		}
	}

	if e.Signer == "" {
		return nil
	}
	fields := StatusFields(e)
	if len(fields) == 0 {
		return nil
	}
	return c.SetSignerStatus(ctx, e.Signer, fields)
}
