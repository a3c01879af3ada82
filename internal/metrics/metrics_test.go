package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/pkg/circuit"
)

func TestRecord(t *testing.T) {
	m := New()
	ctx := context.Background()

	_ = m.Record(ctx, events.Solution("alice", [32]byte{}, 1, 300, 3*time.Second))
	_ = m.Record(ctx, events.Solution("alice", [32]byte{}, 2, 100, time.Second))

	landed := events.New(events.KindSubmission)
	landed.Operation, landed.Strategy = "mine", "direct"
	_ = m.Record(ctx, landed)

	failed := events.New(events.KindSubmissionFailed)
	failed.Operation, failed.Strategy = "mine", "relay"
	_ = m.Record(ctx, failed)

	claim := events.New(events.KindClaim)
	claim.Signer, claim.Amount = "alice", 500
	_ = m.Record(ctx, claim)

	cycle := events.New(events.KindCycle)
	cycle.Cycle, cycle.RewardRate = 7, 42
	_ = m.Record(ctx, cycle)

	if got := testutil.ToFloat64(m.solutions.WithLabelValues("alice")); got != 2 {
		t.Errorf("solutions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.hashrate.WithLabelValues("alice")); got != 100 {
		t.Errorf("hashrate = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.submissions.WithLabelValues("mine", "direct", "landed")); got != 1 {
		t.Errorf("landed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.submissions.WithLabelValues("mine", "relay", "failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.claimed.WithLabelValues("alice")); got != 500 {
		t.Errorf("claimed = %v, want 500", got)
	}
	if got := testutil.ToFloat64(m.cycle); got != 7 {
		t.Errorf("cycle = %v, want 7", got)
	}
}

func TestObserveBreaker(t *testing.T) {
	m := New()
	m.ObserveBreaker("rpc", circuit.StateClosed, circuit.StateOpen)

	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("rpc")); got != 1 {
		t.Errorf("breaker state = %v, want 1", got)
	}

	expected := `
# HELP goore_circuit_state Circuit breaker state (0 closed, 1 open, 2 half-open)
# TYPE goore_circuit_state gauge
goore_circuit_state{breaker="rpc"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "goore_circuit_state"); err != nil {
		t.Error(err)
	}
}
