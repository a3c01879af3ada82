package postgres

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/ore"
)

// Submission statuses
const (
	StatusLanded = "landed"
	StatusFailed = "failed"
)

// Solution is a hash that met the difficulty target
type Solution struct {
	ID        int64     `db:"id"`
	EventID   string    `db:"event_id"`
	Signer    string    `db:"signer"`
	Hash      string    `db:"hash"`
	Nonce     uint64    `db:"nonce"`
	Attempts  uint64    `db:"attempts"`
	ElapsedMS int64     `db:"elapsed_ms"`
	FoundAt   time.Time `db:"found_at"`
}

// Submission is one delivered (or abandoned) transaction
type Submission struct {
	ID          int64          `db:"id"`
	EventID     string         `db:"event_id"`
	Operation   string         `db:"operation"`
	Strategy    string         `db:"strategy"`
	Signature   sql.NullString `db:"signature"`
	Bus         sql.NullInt32  `db:"bus"`
	Signers     int            `db:"signers"`
	Status      string         `db:"status"`
	Error       sql.NullString `db:"error"`
	SubmittedAt time.Time      `db:"submitted_at"`
}

// Claim is a reward withdrawal for one signer
type Claim struct {
	ID        int64           `db:"id"`
	EventID   string          `db:"event_id"`
	Signer    string          `db:"signer"`
	Amount    uint64          `db:"amount"`
	AmountORE decimal.Decimal `db:"amount_ore"`
	Signature sql.NullString  `db:"signature"`
	ClaimedAt time.Time       `db:"claimed_at"`
}

// SolutionFromEvent maps a solution event to its ledger row
func SolutionFromEvent(e *events.Event) *Solution {
	return &Solution{
		EventID:   e.ID,
		Signer:    e.Signer,
		Hash:      e.Hash,
		Nonce:     e.Nonce,
		Attempts:  e.Attempts,
		ElapsedMS: e.Elapsed.Milliseconds(),
		FoundAt:   e.Time,
	}
}

// SubmissionFromEvent maps a submission or submission_failed event to its ledger row
func SubmissionFromEvent(e *events.Event) *Submission {
	s := &Submission{
		EventID:     e.ID,
		Operation:   e.Operation,
		Strategy:    e.Strategy,
		Signature:   nullString(e.Signature),
		Signers:     e.Signers,
		Status:      StatusLanded,
		Error:       nullString(e.Error),
		SubmittedAt: e.Time,
	}
	if e.Bus >= 0 {
		s.Bus = sql.NullInt32{Int32: int32(e.Bus), Valid: true}
	}
	if e.Kind == events.KindSubmissionFailed {
		s.Status = StatusFailed
	}
	return s
}

// ClaimFromEvent maps a claim event to its ledger row
func ClaimFromEvent(e *events.Event) *Claim {
	return &Claim{
		EventID:   e.ID,
		Signer:    e.Signer,
		Amount:    e.Amount,
		AmountORE: decimal.RequireFromString(ore.FormatAmount(e.Amount)),
		Signature: nullString(e.Signature),
		ClaimedAt: e.Time,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
