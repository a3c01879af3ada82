package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bardlex/goore/internal/events"
)

func TestSubmissionFromEvent(t *testing.T) {
	tests := []struct {
		name       string
		kind       events.Kind
		bus        int
		errMsg     string
		wantStatus string
		wantBus    bool
	}{
		{"landed mine", events.KindSubmission, 4, "", StatusLanded, true},
		{"landed claim", events.KindSubmission, -1, "", StatusLanded, false},
		{"failed", events.KindSubmissionFailed, 2, "simulation failed", StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := events.New(tt.kind)
			e.Operation = "mine"
			e.Strategy = "direct"
			e.Bus = tt.bus
			e.Error = tt.errMsg
			e.Signers = 2

			s := SubmissionFromEvent(e)
			if s.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", s.Status, tt.wantStatus)
			}
			if s.Bus.Valid != tt.wantBus {
				t.Errorf("Bus.Valid = %v, want %v", s.Bus.Valid, tt.wantBus)
			}
			if tt.wantBus && int(s.Bus.Int32) != tt.bus {
				t.Errorf("Bus = %d, want %d", s.Bus.Int32, tt.bus)
			}
			if s.Error.Valid != (tt.errMsg != "") {
				t.Errorf("Error.Valid = %v", s.Error.Valid)
			}
			if s.Signature.Valid {
				t.Error("empty signature stored as non-null")
			}
		})
	}
}

func TestClaimFromEvent(t *testing.T) {
	e := events.New(events.KindClaim)
	e.Signer = "signer"
	e.Amount = 1_500_000_000

	c := ClaimFromEvent(e)
	if c.AmountORE.String() != "1.5" {
		t.Errorf("AmountORE = %s, want 1.5", c.AmountORE)
	}
	if c.EventID != e.ID {
		t.Errorf("EventID = %s, want %s", c.EventID, e.ID)
	}
}

func TestSolutionFromEvent(t *testing.T) {
	e := events.Solution("signer", [32]byte{9}, ^uint64(0), 10, 1500*time.Millisecond)

	s := SolutionFromEvent(e)
	if s.Nonce != ^uint64(0) {
		t.Errorf("Nonce = %d", s.Nonce)
	}
	if s.ElapsedMS != 1500 {
		t.Errorf("ElapsedMS = %d, want 1500", s.ElapsedMS)
	}
}

func TestClientLedger(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if testing.Short() || url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	client, err := NewClient(DefaultConfig(url))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	solution := events.Solution("ledger-test", [32]byte{1}, ^uint64(0), 5, time.Second)
	if err := client.Record(ctx, solution); err != nil {
		t.Fatalf("Record(solution) error = %v", err)
	}
	// Replays are ignored
	if err := client.Record(ctx, solution); err != nil {
		t.Fatalf("Record(replay) error = %v", err)
	}

	got, err := client.Solutions.BySigner(ctx, "ledger-test", 10)
	if err != nil {
		t.Fatalf("BySigner() error = %v", err)
	}
	if len(got) == 0 || got[0].Nonce != ^uint64(0) {
		t.Errorf("BySigner() = %+v", got)
	}
}
