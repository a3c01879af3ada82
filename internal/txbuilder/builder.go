// Package txbuilder assembles the ordered instruction list of a nonce-path
// transaction: advance-nonce, compute budget, domain instructions and an
// optional relay tip.
package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/bardlex/goore/internal/nonce"
	"github.com/bardlex/goore/pkg/errors"
)

// MaxComputeUnits is the per-transaction compute ceiling of the network.
const MaxComputeUnits = 1_400_000

// DefaultRelayPriorityFee overrides the configured fee on the relay path, in
// micro-lamports per compute unit.
const DefaultRelayPriorityFee uint64 = 1000

// Strategy selects how a transaction is delivered.
type Strategy int

const (
	// DirectPoll broadcasts to the RPC node and polls signature status.
	DirectPoll Strategy = iota
	// BundleRelay submits a single-transaction bundle to a block-building relay.
	BundleRelay
)

// String returns the strategy name
func (s Strategy) String() string {
	switch s {
	case DirectPoll:
		return "direct"
	case BundleRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Plan describes one transaction to assemble.
type Plan struct {
	NonceAccount solana.PublicKey
	Payer        solana.PublicKey

	// Instructions are the domain instructions in execution order.
	Instructions []solana.Instruction

	// UnitsPerSigner is the compute budget of one co-signer's work; the
	// limit is UnitsPerSigner × Signers.
	UnitsPerSigner uint32
	Signers        int

	Strategy    Strategy
	PriorityFee uint64

	// Relay only
	RelayPriorityFee uint64
	TipAccount       solana.PublicKey
	TipLamports      uint64
}

// ComputeUnitLimit returns the scaled limit, capped at MaxComputeUnits.
func (p Plan) ComputeUnitLimit() uint32 {
	units := uint64(p.UnitsPerSigner) * uint64(max(p.Signers, 1))
	return uint32(min(units, MaxComputeUnits))
}

// Price returns the compute unit price for the plan's strategy.
func (p Plan) Price() uint64 {
	if p.Strategy != BundleRelay {
		return p.PriorityFee
	}
	if p.RelayPriorityFee > 0 {
		return p.RelayPriorityFee
	}
	return DefaultRelayPriorityFee
}

func (p Plan) validate() error {
	if p.Payer.IsZero() {
		return fmt.Errorf("payer is required")
	}
	if p.NonceAccount.IsZero() {
		return fmt.Errorf("nonce account is required")
	}
	if len(p.Instructions) == 0 {
		return fmt.Errorf("at least one domain instruction is required")
	}
	if p.UnitsPerSigner == 0 {
		return fmt.Errorf("compute units per signer must be positive")
	}
	if p.Strategy == BundleRelay {
		if p.TipAccount.IsZero() {
			return fmt.Errorf("relay strategy requires a tip account")
		}
		if p.TipLamports == 0 {
			return fmt.Errorf("relay strategy requires a tip amount")
		}
	}
	return nil
}

// Build returns
// [advance-nonce, compute-limit, compute-price, domain..., tip?].
func Build(p Plan) ([]solana.Instruction, error) {
	if err := p.validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_transaction", "invalid transaction plan")
	}

	ixs := make([]solana.Instruction, 0, len(p.Instructions)+4)
	ixs = append(ixs,
		nonce.AdvanceInstruction(p.NonceAccount, p.Payer),
		computebudget.NewSetComputeUnitLimitInstruction(p.ComputeUnitLimit()).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(p.Price()).Build(),
	)
	ixs = append(ixs, p.Instructions...)

	if p.Strategy == BundleRelay {
		ixs = append(ixs, system.NewTransferInstruction(p.TipLamports, p.Payer, p.TipAccount).Build())
	}
	return ixs, nil
}

// BuildBootstrap returns the instruction list of a blockhash-path transaction:
// a compute price directive followed by ixs.
func BuildBootstrap(ixs []solana.Instruction, priorityFee uint64) []solana.Instruction {
	out := make([]solana.Instruction, 0, len(ixs)+1)
	out = append(out, computebudget.NewSetComputeUnitPriceInstruction(priorityFee).Build())
	return append(out, ixs...)
}
