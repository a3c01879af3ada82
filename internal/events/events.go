// Package events defines the telemetry records emitted by the miner and
// consumed by the telemetry sinks.
package events

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind classifies an event.
type Kind string

const (
	KindCycle            Kind = "cycle"
	KindSolution         Kind = "solution"
	KindSubmission       Kind = "submission"
	KindSubmissionFailed Kind = "submission_failed"
	KindRegistration     Kind = "registration"
	KindClaim            Kind = "claim"
)

// Event is one observation of the mining loop. Fields that do not apply to
// a kind are left zero.
type Event struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Time   time.Time `json:"time"`
	Cycle  uint64    `json:"cycle,omitempty"`
	Signer string    `json:"signer,omitempty"`

	// Solution
	Hash     string        `json:"hash,omitempty"`
	Nonce    uint64        `json:"nonce,omitempty"`
	Attempts uint64        `json:"attempts,omitempty"`
	Elapsed  time.Duration `json:"elapsed_ns,omitempty"`

	// Submission
	Operation string `json:"operation,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Signature string `json:"signature,omitempty"`
	Bus       int    `json:"bus"`
	Signers   int    `json:"signers,omitempty"`
	Error     string `json:"error,omitempty"`

	// Cycle and claim
	Amount     uint64 `json:"amount,omitempty"`
	RewardRate uint64 `json:"reward_rate,omitempty"`
}

// New returns an event of kind stamped with a fresh id and the current time.
func New(kind Kind) *Event {
	return &Event{
		ID:   uuid.NewString(),
		Kind: kind,
		Time: time.Now().UTC(),
		Bus:  -1,
	}
}

// Solution builds a solution event.
func Solution(signer string, hash [32]byte, nonce, attempts uint64, elapsed time.Duration) *Event {
	e := New(KindSolution)
	e.Signer = signer
	e.Hash = hex.EncodeToString(hash[:])
	e.Nonce = nonce
	e.Attempts = attempts
	e.Elapsed = elapsed
	return e
}

// Hashrate returns hashes per second for solution events.
func (e *Event) Hashrate() float64 {
	if e.Elapsed <= 0 {
		return 0
	}
	return float64(e.Attempts) / e.Elapsed.Seconds()
}

// Key returns the partitioning key used by ordered sinks.
func (e *Event) Key() string {
	if e.Signer != "" {
		return e.Signer
	}
	return string(e.Kind)
}

// Struct converts the event to a protobuf Struct for binary publishing.
func (e *Event) Struct() (*structpb.Struct, error) {
	fields := map[string]any{
		"id":   e.ID,
		"kind": string(e.Kind),
		"time": e.Time.Format(time.RFC3339Nano),
	}
	if e.Cycle > 0 {
		fields["cycle"] = float64(e.Cycle)
	}
	if e.Signer != "" {
		fields["signer"] = e.Signer
	}
	if e.Hash != "" {
		fields["hash"] = e.Hash
		fields["nonce"] = float64(e.Nonce)
		fields["attempts"] = float64(e.Attempts)
		fields["hashrate"] = e.Hashrate()
	}
	if e.Operation != "" {
		fields["operation"] = e.Operation
	}
	if e.Strategy != "" {
		fields["strategy"] = e.Strategy
	}
	if e.Signature != "" {
		fields["signature"] = e.Signature
	}
	if e.Bus >= 0 {
		fields["bus"] = float64(e.Bus)
	}
	if e.Signers > 0 {
		fields["signers"] = float64(e.Signers)
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	if e.Amount > 0 {
		fields["amount"] = float64(e.Amount)
	}
	if e.RewardRate > 0 {
		fields["reward_rate"] = float64(e.RewardRate)
	}
	return structpb.NewStruct(fields)
}
