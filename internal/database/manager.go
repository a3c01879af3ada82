// Package database records miner events into PostgreSQL, Redis and InfluxDB.
// Every backend is optional; the manager only talks to the configured ones.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/goore/internal/database/influx"
	"github.com/bardlex/goore/internal/database/postgres"
	"github.com/bardlex/goore/internal/database/redis"
	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/telemetry"
	"github.com/bardlex/goore/pkg/circuit"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// store is one backend as seen by the manager
type store interface {
	Record(ctx context.Context, e *events.Event) error
	Health(ctx context.Context) error
	Close() error
}

type influxStore struct{ *influx.Client }

func (s influxStore) Close() error {
	s.Client.Close()
	return nil
}

var (
	_ store          = (*postgres.Client)(nil)
	_ store          = (*redis.Client)(nil)
	_ store          = influxStore{}
	_ telemetry.Sink = (*Manager)(nil)
)

type namedStore struct {
	name     string
	store    store
	critical bool
	breaker  *circuit.Breaker
}

// Manager coordinates event recording across the configured databases
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	stores      []*namedStore
	retryConfig *retry.Config
	logger      *log.Logger
}

// Config holds configuration for all database systems. Nil entries are disabled.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// Enabled reports whether any backend is configured
func (c *Config) Enabled() bool {
	return c != nil && (c.Postgres != nil || c.Redis != nil || c.Influx != nil)
}

// NewManager connects to every configured database
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		retryConfig: retry.StorageConfig(),
		logger:      logger.WithComponent("database"),
	}

	if cfg.Postgres != nil {
		pgClient, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeStorage, "postgres_connection",
				"failed to connect to PostgreSQL database"))
		}
		m.Postgres = pgClient
		m.add("postgres", pgClient, true)
	}

	if cfg.Redis != nil {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeStorage, "redis_connection",
				"failed to connect to Redis database"))
		}
		m.Redis = redisClient
		m.add("redis", redisClient, false)
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(cfg.Influx)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeStorage, "influx_connection",
				"failed to connect to InfluxDB database"))
		}
		m.Influx = influxClient
		m.add("influx", influxStore{influxClient}, false)
	}

	return m, nil
}

func (m *Manager) add(name string, s store, critical bool) {
	m.stores = append(m.stores, &namedStore{
		name:     name,
		store:    s,
		critical: critical,
		breaker: circuit.New(&circuit.Config{
			Name:            name,
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
			IsFailure:       func(err error) bool { return err != nil },
		}),
	})
}

// abort closes whatever connected before a later backend failed
func (m *Manager) abort(err *errors.ServiceError) error {
	if closeErr := m.Close(); closeErr != nil {
		return err.WithContext("cleanup_error", closeErr.Error())
	}
	return err
}

// Name implements telemetry.Sink
func (m *Manager) Name() string { return "database" }

// Record stores an event in every backend. The ledger (PostgreSQL) is
// retried and its failure returned; the other backends are best effort.
func (m *Manager) Record(ctx context.Context, e *events.Event) error {
	var ledgerErr error
	for _, s := range m.stores {
		err := s.breaker.Execute(ctx, func() error {
			if !s.critical {
				return s.store.Record(ctx, e)
			}
			return retry.Do(ctx, m.retryConfig, func() error {
				if err := s.store.Record(ctx, e); err != nil {
					return errors.Wrap(err, errors.ErrorTypeStorage, "record_"+string(e.Kind),
						"failed to store event").
						WithContext("store", s.name).
						WithContext("event_id", e.ID)
				}
				return nil
			})
		})
		if err == nil {
			continue
		}
		if s.critical {
			ledgerErr = err
			continue
		}
		m.logger.Warn("non-critical store rejected event",
			"store", s.name,
			"kind", e.Kind,
			"error", err,
		)
	}
	return ledgerErr
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	for _, s := range m.stores {
		if err := s.store.Health(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", s.name, err)
		}
	}
	return nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", s.name, err))
		}
	}
	m.stores = nil

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}
	return nil
}

// StartPeriodicTasks flushes InfluxDB and reports its asynchronous write errors
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		writeErrors := m.Influx.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-writeErrors:
				m.logger.Warn("influx write failed", "error", err)
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}
