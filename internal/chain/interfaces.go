// Package chain provides the network RPC boundary of the miner.
// The Client interface describes the node operations the core consumes so the
// state reader, nonce manager and submission engine can be tested without a
// validator; RPCClient implements it on top of solana-go's JSON-RPC client.
package chain

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrAccountNotFound is returned by GetAccount when the address holds no account.
var ErrAccountNotFound = errors.New("account not found")

// Commitment is a confirmation level reported for a signature.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether c is at least as final as other.
func (c Commitment) AtLeast(other Commitment) bool {
	return c.rank() >= other.rank()
}

// Account is a raw account as returned by the node.
type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// Blockhash is a recent block reference plus the slot it was observed at.
type Blockhash struct {
	Hash solana.Hash
	Slot uint64
}

// SimulationResult carries the outcome of a dry run.
type SimulationResult struct {
	Err  any
	Logs []string
}

// Failed reports whether the simulation produced an error.
func (r *SimulationResult) Failed() bool {
	return r != nil && r.Err != nil
}

// SignatureStatus is the node's view of a submitted signature.
type SignatureStatus struct {
	Slot       uint64
	Commitment Commitment
	Err        any
}

// SendOptions configures a raw transaction broadcast.
type SendOptions struct {
	SkipPreflight  bool
	MaxRetries     *uint
	MinContextSlot *uint64
}

// Client defines the node operations used by the miner.
//
// All methods include context.Context for cancellation. Errors are wrapped
// pkg/errors ServiceErrors; transient transport failures are marked retryable.
type Client interface {
	// Reads

	// GetAccount returns the account at addr or ErrAccountNotFound.
	GetAccount(ctx context.Context, addr solana.PublicKey) (*Account, error)

	// GetBalance returns the lamport balance of addr.
	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)

	// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for size bytes.
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)

	// GetLatestBlockhash returns a recent block reference.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetSlot returns the current confirmed slot.
	GetSlot(ctx context.Context) (uint64, error)

	// GetSlotLeaders returns limit scheduled leaders starting at start.
	GetSlotLeaders(ctx context.Context, start, limit uint64) ([]solana.PublicKey, error)

	// Transactions

	// SimulateTransaction dry-runs tx against current state.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error)

	// SendTransaction broadcasts tx.
	SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error)

	// GetSignatureStatus returns nil when the node has no record of sig.
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)

	// Close releases the underlying transport.
	Close() error
}

var _ Client = (*RPCClient)(nil)
