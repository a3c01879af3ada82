package database

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bardlex/goore/internal/database/postgres"
	"github.com/bardlex/goore/internal/database/redis"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
)

type fakeLedger struct {
	counts  map[string]int64
	recent  []*postgres.Submission
	latest  map[string]*postgres.Solution
	claimed map[string]decimal.Decimal
	err     error

	recentLimit int
	since       time.Time
}

func (f *fakeLedger) CountSubmissions(_ context.Context, since time.Time) (map[string]int64, error) {
	f.since = since
	return f.counts, f.err
}

func (f *fakeLedger) RecentSubmissions(_ context.Context, limit int) ([]*postgres.Submission, error) {
	f.recentLimit = limit
	return f.recent, nil
}

func (f *fakeLedger) LatestSolution(_ context.Context, signer string) (*postgres.Solution, error) {
	return f.latest[signer], nil
}

func (f *fakeLedger) TotalClaimed(_ context.Context, signer string) (decimal.Decimal, error) {
	if d, ok := f.claimed[signer]; ok {
		return d, nil
	}
	return decimal.Zero, nil
}

type fakeStatus struct {
	counters map[string]int64
	status   map[string]map[string]string
	rates    map[string]float64
	window   time.Duration
}

func (f *fakeStatus) GetSignerStatus(_ context.Context, signer string) (map[string]string, error) {
	return f.status[signer], nil
}

func (f *fakeStatus) GetAverageHashrate(_ context.Context, signer string, window time.Duration) (float64, error) {
	f.window = window
	return f.rates[signer], nil
}

func (f *fakeStatus) GetCounter(_ context.Context, key string) (int64, error) {
	return f.counters[key], nil
}

func TestBuildReport(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	ledger := &fakeLedger{
		counts: map[string]int64{postgres.StatusLanded: 40, postgres.StatusFailed: 3},
		recent: []*postgres.Submission{{Operation: "mine", Status: postgres.StatusLanded}},
		latest: map[string]*postgres.Solution{"alice": {Signer: "alice", Nonce: 99}},
		claimed: map[string]decimal.Decimal{
			"alice": decimal.RequireFromString("1.5"),
		},
	}
	status := &fakeStatus{
		counters: map[string]int64{
			redis.CounterKey(redis.CounterLanded, now): 12,
			redis.CounterKey(redis.CounterFailed, now): 1,
		},
		status: map[string]map[string]string{"alice": {"last_bus": "4"}},
		rates:  map[string]float64{"alice": 2500, "bob": 1200},
	}

	r, err := buildReport(context.Background(), ledger, status, ReportOptions{
		Signers: []string{"alice", "bob"},
		Since:   since,
		Recent:  5,
	}, now)
	if err != nil {
		t.Fatalf("buildReport() error = %v", err)
	}

	if !ledger.since.Equal(since) || ledger.recentLimit != 5 {
		t.Errorf("ledger queried with since=%v limit=%d", ledger.since, ledger.recentLimit)
	}
	if status.window != redis.HashrateWindow {
		t.Errorf("hashrate window = %v", status.window)
	}
	if r.Submissions[postgres.StatusLanded] != 40 || len(r.Recent) != 1 {
		t.Errorf("ledger section = %v, %v", r.Submissions, r.Recent)
	}
	if r.LandedToday != 12 || r.FailedToday != 1 {
		t.Errorf("today = %d landed, %d failed", r.LandedToday, r.FailedToday)
	}

	if len(r.Signers) != 2 {
		t.Fatalf("signers = %d, want 2", len(r.Signers))
	}
	alice, bob := r.Signers[0], r.Signers[1]
	if !alice.Claimed.Equal(decimal.RequireFromString("1.5")) || alice.LastSolution.Nonce != 99 {
		t.Errorf("alice = %+v", alice)
	}
	if alice.Hashrate != 2500 || alice.Status["last_bus"] != "4" {
		t.Errorf("alice status = %+v", alice)
	}
	if !bob.Claimed.IsZero() || bob.LastSolution != nil || bob.Hashrate != 1200 {
		t.Errorf("bob = %+v", bob)
	}
}

func TestBuildReportPartialBackends(t *testing.T) {
	r, err := buildReport(context.Background(), nil, &fakeStatus{}, ReportOptions{Signers: []string{"alice"}}, time.Now())
	if err != nil {
		t.Fatalf("buildReport(status only) error = %v", err)
	}
	if r.Submissions != nil || !r.Signers[0].Claimed.IsZero() {
		t.Errorf("ledger section filled without a ledger: %+v", r)
	}

	r, err = buildReport(context.Background(), &fakeLedger{}, nil, ReportOptions{}, time.Now())
	if err != nil {
		t.Fatalf("buildReport(ledger only) error = %v", err)
	}
	if r.Recent != nil {
		t.Error("Recent read with a zero limit")
	}
}

func TestBuildReportErrors(t *testing.T) {
	_, err := buildReport(context.Background(), nil, nil, ReportOptions{}, time.Now())
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("no backends: error = %v, want validation", err)
	}

	cause := stderrors.New("pq: connection refused")
	_, err = buildReport(context.Background(), &fakeLedger{err: cause}, nil, ReportOptions{}, time.Now())
	if !errors.IsType(err, errors.ErrorTypeStorage) || !stderrors.Is(err, cause) {
		t.Errorf("ledger failure: error = %v", err)
	}
}

func TestManagerReportWithoutBackends(t *testing.T) {
	m, err := NewManager(&Config{}, log.Discard())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	_, err = m.Report(context.Background(), ReportOptions{})
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Errorf("Report() error = %v, want validation", err)
	}
}
