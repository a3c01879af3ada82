package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bardlex/goore/internal/database/postgres"
	"github.com/bardlex/goore/internal/database/redis"
	"github.com/bardlex/goore/pkg/errors"
)

// SignerReport summarizes one mining identity
type SignerReport struct {
	Signer       string
	Claimed      decimal.Decimal
	LastSolution *postgres.Solution
	Hashrate     float64
	Status       map[string]string
}

// Report summarizes recorded mining activity. Sections whose backend is not
// configured stay empty.
type Report struct {
	Since       time.Time
	Submissions map[string]int64
	Recent      []*postgres.Submission
	LandedToday int64
	FailedToday int64
	Signers     []SignerReport
}

// ReportOptions selects what Report reads
type ReportOptions struct {
	Signers []string
	Since   time.Time
	Recent  int
}

type ledgerReader interface {
	CountSubmissions(ctx context.Context, since time.Time) (map[string]int64, error)
	RecentSubmissions(ctx context.Context, limit int) ([]*postgres.Submission, error)
	LatestSolution(ctx context.Context, signer string) (*postgres.Solution, error)
	TotalClaimed(ctx context.Context, signer string) (decimal.Decimal, error)
}

type statusReader interface {
	GetSignerStatus(ctx context.Context, signer string) (map[string]string, error)
	GetAverageHashrate(ctx context.Context, signer string, window time.Duration) (float64, error)
	GetCounter(ctx context.Context, key string) (int64, error)
}

var _ statusReader = (*redis.Client)(nil)

// pgLedger adapts the postgres repositories to ledgerReader
type pgLedger struct{ c *postgres.Client }

func (l pgLedger) CountSubmissions(ctx context.Context, since time.Time) (map[string]int64, error) {
	return l.c.Submissions.CountByStatus(ctx, since)
}

func (l pgLedger) RecentSubmissions(ctx context.Context, limit int) ([]*postgres.Submission, error) {
	return l.c.Submissions.Recent(ctx, limit)
}

func (l pgLedger) LatestSolution(ctx context.Context, signer string) (*postgres.Solution, error) {
	solutions, err := l.c.Solutions.BySigner(ctx, signer, 1)
	if err != nil || len(solutions) == 0 {
		return nil, err
	}
	return solutions[0], nil
}

func (l pgLedger) TotalClaimed(ctx context.Context, signer string) (decimal.Decimal, error) {
	return l.c.Claims.TotalBySigner(ctx, signer)
}

// Report reads the ledger and live status for opts.Signers
func (m *Manager) Report(ctx context.Context, opts ReportOptions) (*Report, error) {
	var ledger ledgerReader
	if m.Postgres != nil {
		ledger = pgLedger{m.Postgres}
	}
	var status statusReader
	if m.Redis != nil {
		status = m.Redis
	}
	return buildReport(ctx, ledger, status, opts, time.Now())
}

func buildReport(ctx context.Context, ledger ledgerReader, status statusReader, opts ReportOptions, now time.Time) (*Report, error) {
	if ledger == nil && status == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "report",
			"no ledger or status store configured")
	}

	r := &Report{Since: opts.Since}
	for _, signer := range opts.Signers {
		r.Signers = append(r.Signers, SignerReport{Signer: signer, Claimed: decimal.Zero})
	}

	if ledger != nil {
		if err := readLedger(ctx, ledger, opts, r); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "report_ledger",
				"failed to read ledger")
		}
	}
	if status != nil {
		if err := readStatus(ctx, status, now, r); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "report_status",
				"failed to read signer status")
		}
	}
	return r, nil
}

func readLedger(ctx context.Context, ledger ledgerReader, opts ReportOptions, r *Report) error {
	counts, err := ledger.CountSubmissions(ctx, opts.Since)
	if err != nil {
		return err
	}
	r.Submissions = counts

	if opts.Recent > 0 {
		if r.Recent, err = ledger.RecentSubmissions(ctx, opts.Recent); err != nil {
			return err
		}
	}

	for i := range r.Signers {
		sr := &r.Signers[i]
		if sr.Claimed, err = ledger.TotalClaimed(ctx, sr.Signer); err != nil {
			return err
		}
		if sr.LastSolution, err = ledger.LatestSolution(ctx, sr.Signer); err != nil {
			return err
		}
	}
	return nil
}

func readStatus(ctx context.Context, status statusReader, now time.Time, r *Report) error {
	var err error
	if r.LandedToday, err = status.GetCounter(ctx, redis.CounterKey(redis.CounterLanded, now)); err != nil {
		return err
	}
	if r.FailedToday, err = status.GetCounter(ctx, redis.CounterKey(redis.CounterFailed, now)); err != nil {
		return err
	}

	for i := range r.Signers {
		sr := &r.Signers[i]
		if sr.Status, err = status.GetSignerStatus(ctx, sr.Signer); err != nil {
			return err
		}
		if sr.Hashrate, err = status.GetAverageHashrate(ctx, sr.Signer, redis.HashrateWindow); err != nil {
			return err
		}
	}
	return nil
}
