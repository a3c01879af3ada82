// Package postgres keeps the durable ledger of solutions, submissions and
// claims produced by the miner.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB

	Solutions   *SolutionRepository
	Submissions *SubmissionRepository
	Claims      *ClaimRepository
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns pool settings sized for a single miner process
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		MaxLifetime:  30 * time.Minute,
	}
}

// NewClient opens the database, checks connectivity and applies the schema
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := newClient(db)
	if err := c.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func newClient(db *sql.DB) *Client {
	return &Client{
		db:          db,
		Solutions:   NewSolutionRepository(db),
		Submissions: NewSubmissionRepository(db),
		Claims:      NewClaimRepository(db),
	}
}

// Migrate creates the ledger tables when they do not exist
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS solutions (
		id          BIGSERIAL PRIMARY KEY,
		event_id    UUID UNIQUE NOT NULL,
		signer      TEXT NOT NULL,
		hash        TEXT NOT NULL,
		nonce       NUMERIC(20) NOT NULL,
		attempts    NUMERIC(20) NOT NULL,
		elapsed_ms  BIGINT NOT NULL,
		found_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id          BIGSERIAL PRIMARY KEY,
		event_id    UUID UNIQUE NOT NULL,
		operation   TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		signature   TEXT,
		bus         INTEGER,
		signers     INTEGER NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT,
		submitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS submissions_submitted_at_idx ON submissions (submitted_at DESC)`,
	`CREATE TABLE IF NOT EXISTS claims (
		id          BIGSERIAL PRIMARY KEY,
		event_id    UUID UNIQUE NOT NULL,
		signer      TEXT NOT NULL,
		amount      NUMERIC(20) NOT NULL,
		amount_ore  NUMERIC(30, 9) NOT NULL,
		signature   TEXT,
		claimed_at  TIMESTAMPTZ NOT NULL
	)`,
}
