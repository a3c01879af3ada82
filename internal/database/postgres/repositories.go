package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SolutionRepository handles solution ledger operations
type SolutionRepository struct {
	db *sql.DB
}

// NewSolutionRepository creates a new solution repository
func NewSolutionRepository(db *sql.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

// Create inserts a solution. Replayed events are ignored.
func (r *SolutionRepository) Create(ctx context.Context, s *Solution) error {
	query := `
		INSERT INTO solutions (event_id, signer, hash, nonce, attempts, elapsed_ms, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	// database/sql rejects uint64 values with the high bit set
	_, err := r.db.ExecContext(ctx, query,
		s.EventID, s.Signer, s.Hash,
		strconv.FormatUint(s.Nonce, 10), strconv.FormatUint(s.Attempts, 10),
		s.ElapsedMS, s.FoundAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create solution: %w", err)
	}
	return nil
}

// BySigner returns the most recent solutions for one signer
func (r *SolutionRepository) BySigner(ctx context.Context, signer string, limit int) ([]*Solution, error) {
	query := `
		SELECT id, event_id, signer, hash, nonce, attempts, elapsed_ms, found_at
		FROM solutions
		WHERE signer = $1
		ORDER BY found_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, signer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query solutions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var solutions []*Solution
	for rows.Next() {
		var s Solution
		var nonce, attempts string
		if err := rows.Scan(&s.ID, &s.EventID, &s.Signer, &s.Hash, &nonce, &attempts, &s.ElapsedMS, &s.FoundAt); err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		if s.Nonce, err = strconv.ParseUint(nonce, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid nonce %q: %w", nonce, err)
		}
		if s.Attempts, err = strconv.ParseUint(attempts, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid attempts %q: %w", attempts, err)
		}
		solutions = append(solutions, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating solutions: %w", err)
	}
	return solutions, nil
}

// SubmissionRepository handles submission ledger operations
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create inserts a submission. Replayed events are ignored.
func (r *SubmissionRepository) Create(ctx context.Context, s *Submission) error {
	query := `
		INSERT INTO submissions (event_id, operation, strategy, signature, bus, signers, status, error, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		s.EventID, s.Operation, s.Strategy, s.Signature, s.Bus,
		s.Signers, s.Status, s.Error, s.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// Recent returns the newest submissions
func (r *SubmissionRepository) Recent(ctx context.Context, limit int) ([]*Submission, error) {
	query := `
		SELECT id, event_id, operation, strategy, signature, bus, signers, status, error, submitted_at
		FROM submissions
		ORDER BY submitted_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var submissions []*Submission
	for rows.Next() {
		s := &Submission{}
		err := rows.Scan(
			&s.ID, &s.EventID, &s.Operation, &s.Strategy, &s.Signature,
			&s.Bus, &s.Signers, &s.Status, &s.Error, &s.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return submissions, nil
}

// CountByStatus counts submissions per status since a point in time
func (r *SubmissionRepository) CountByStatus(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM submissions WHERE submitted_at >= $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan submission count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ClaimRepository handles claim ledger operations
type ClaimRepository struct {
	db *sql.DB
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db *sql.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// Create inserts a claim. Replayed events are ignored.
func (r *ClaimRepository) Create(ctx context.Context, c *Claim) error {
	query := `
		INSERT INTO claims (event_id, signer, amount, amount_ore, signature, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		c.EventID, c.Signer, strconv.FormatUint(c.Amount, 10), c.AmountORE, c.Signature, c.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

// TotalBySigner sums everything claimed by one signer, in ORE
func (r *ClaimRepository) TotalBySigner(ctx context.Context, signer string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount_ore), 0) FROM claims WHERE signer = $1`

	var total decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, signer).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum claims: %w", err)
	}
	return total, nil
}
