// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/chain"
)

// Client is a scriptable chain.Client. Zero values answer with empty but
// successful results; hooks override individual calls.
type Client struct {
	mu sync.Mutex

	Accounts  map[solana.PublicKey]*chain.Account
	Balances  map[solana.PublicKey]uint64
	Rent      uint64
	Blockhash solana.Hash
	Slot      uint64
	Leaders   []solana.PublicKey

	// Simulation is returned by SimulateTransaction when set.
	Simulation *chain.SimulationResult

	// StatusFunc decides the status reported for the n-th poll (zero based)
	// of sig. Nil reports a confirmed status on every poll.
	StatusFunc func(sig solana.Signature, poll int) *chain.SignatureStatus

	// OnSend runs after a transaction is recorded; it may mutate accounts.
	OnSend func(c *Client, tx *solana.Transaction)

	// Per-method failures
	GetAccountErr error
	SendErr       error
	SimulateErr   error
	StatusErr     error
	BlockhashErr  error

	sent       []*solana.Transaction
	simulated  []*solana.Transaction
	polls      map[solana.Signature]int
	blockCalls int
	closed     bool
}

// New returns an empty Client.
func New() *Client {
	return &Client{
		Accounts:  make(map[solana.PublicKey]*chain.Account),
		Balances:  make(map[solana.PublicKey]uint64),
		Rent:      1_447_680,
		Blockhash: solana.Hash{1},
		polls:     make(map[solana.Signature]int),
	}
}

// SetAccount stores raw account data at addr.
func (c *Client) SetAccount(addr solana.PublicKey, owner solana.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[addr] = &chain.Account{Address: addr, Owner: owner, Lamports: 1, Data: data}
}

// Sent returns the transactions broadcast so far.
func (c *Client) Sent() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

// Simulated returns the transactions simulated so far.
func (c *Client) Simulated() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*solana.Transaction, len(c.simulated))
	copy(out, c.simulated)
	return out
}

// Polls returns how many times sig has been polled.
func (c *Client) Polls(sig solana.Signature) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls[sig]
}

// BlockhashCalls returns the number of GetLatestBlockhash calls.
func (c *Client) BlockhashCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockCalls
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) GetAccount(_ context.Context, addr solana.PublicKey) (*chain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetAccountErr != nil {
		return nil, c.GetAccountErr
	}
	acct, ok := c.Accounts[addr]
	if !ok {
		return nil, chain.ErrAccountNotFound
	}
	cp := *acct
	cp.Data = append([]byte(nil), acct.Data...)
	return &cp, nil
}

func (c *Client) GetBalance(_ context.Context, addr solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[addr], nil
}

func (c *Client) GetMinimumBalanceForRentExemption(_ context.Context, _ uint64) (uint64, error) {
	return c.Rent, nil
}

func (c *Client) GetLatestBlockhash(_ context.Context) (*chain.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockCalls++
	if c.BlockhashErr != nil {
		return nil, c.BlockhashErr
	}
	return &chain.Blockhash{Hash: c.Blockhash, Slot: c.Slot}, nil
}

func (c *Client) GetSlot(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Slot, nil
}

func (c *Client) GetSlotLeaders(_ context.Context, start, limit uint64) ([]solana.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]solana.PublicKey, 0, limit)
	if len(c.Leaders) == 0 {
		return out, nil
	}
	for i := uint64(0); i < limit; i++ {
		out = append(out, c.Leaders[(start+i)%uint64(len(c.Leaders))])
	}
	return out, nil
}

func (c *Client) SimulateTransaction(_ context.Context, tx *solana.Transaction) (*chain.SimulationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.simulated = append(c.simulated, tx)
	if c.SimulateErr != nil {
		return nil, c.SimulateErr
	}
	if c.Simulation != nil {
		return c.Simulation, nil
	}
	return &chain.SimulationResult{}, nil
}

func (c *Client) SendTransaction(_ context.Context, tx *solana.Transaction, _ chain.SendOptions) (solana.Signature, error) {
	c.mu.Lock()
	if c.SendErr != nil {
		err := c.SendErr
		c.mu.Unlock()
		return solana.Signature{}, err
	}
	c.sent = append(c.sent, tx)
	hook := c.OnSend
	c.mu.Unlock()

	if hook != nil {
		hook(c, tx)
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, nil
	}
	return tx.Signatures[0], nil
}

func (c *Client) GetSignatureStatus(_ context.Context, sig solana.Signature) (*chain.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	poll := c.polls[sig]
	c.polls[sig] = poll + 1
	if c.StatusFunc != nil {
		return c.StatusFunc(sig, poll), nil
	}
	return &chain.SignatureStatus{Slot: c.Slot, Commitment: chain.CommitmentConfirmed}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var _ chain.Client = (*Client)(nil)
