// Package relay defines the block-building relay collaborator used by the
// bundle submission strategy, and a JSON-RPC block-engine implementation.
package relay

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrHandleExpired reports a bundle rejected because its nonce or
	// blockhash is no longer recognized, which usually means the same
	// payload already landed through another path.
	ErrHandleExpired = errors.New("relay: validity handle expired")

	// ErrStatusTimeout reports a bundle whose outcome was not observed in time.
	ErrStatusTimeout = errors.New("relay: bundle status timeout")
)

// DefaultRegions are the block-engine regions queried for leaders.
var DefaultRegions = []string{"amsterdam", "frankfurt", "ny", "tokyo", "slc"}

// Leader is the next slot led by a relay-connected validator.
type Leader struct {
	CurrentSlot    uint64
	NextLeaderSlot uint64
	Identity       solana.PublicKey
	Region         string
}

// Gap returns the number of slots until the leader slot.
func (l *Leader) Gap() uint64 {
	if l.NextLeaderSlot <= l.CurrentSlot {
		return 0
	}
	return l.NextLeaderSlot - l.CurrentSlot
}

// BundleResult is one outcome on the result stream.
type BundleResult struct {
	BundleID string
	Landed   bool
	Slot     uint64
	// Err is nil when Landed; otherwise ErrHandleExpired, ErrStatusTimeout
	// or a rejection.
	Err error
}

// Relay is a block-building relay accepting single-transaction bundles.
type Relay interface {
	// TipAccount returns an account that accepts tips.
	TipAccount(ctx context.Context) (solana.PublicKey, error)

	// NextScheduledLeader returns the nearest relay leader across regions.
	NextScheduledLeader(ctx context.Context, regions []string) (*Leader, error)

	// SubscribeBundleResults streams bundle outcomes until ctx ends. Results
	// for bundles sent before subscribing may be missed.
	SubscribeBundleResults(ctx context.Context) (<-chan BundleResult, error)

	// SendBundle submits txs as one bundle to region and returns its id.
	SendBundle(ctx context.Context, region string, txs []*solana.Transaction) (string, error)
}

var _ Relay = (*BlockEngine)(nil)
