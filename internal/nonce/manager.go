// Package nonce manages the durable nonce account that stands in for a recent
// blockhash on every mining transaction.
//
// The account address is derived from the payer and the literal seed "nonce",
// so it can be computed without any network access. Creation happens at most
// once per payer and is delivered over the blockhash path because the nonce
// it would otherwise depend on does not exist yet.
package nonce

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
)

// Seed is the literal seed the nonce address is derived with.
const Seed = "nonce"

// Bootstrapper delivers a payer-only transaction over the blockhash path.
type Bootstrapper interface {
	SendBootstrap(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error)
}

// BootstrapperFunc adapts a function to Bootstrapper.
type BootstrapperFunc func(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error)

// SendBootstrap calls f.
func (f BootstrapperFunc) SendBootstrap(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error) {
	return f(ctx, ixs)
}

// Address returns the nonce account address of payer.
func Address(payer solana.PublicKey) (solana.PublicKey, error) {
	return solana.CreateWithSeed(payer, Seed, solana.SystemProgramID)
}

// Fetch reads and decodes the nonce account at addr.
func Fetch(ctx context.Context, client chain.Client, addr solana.PublicKey) (*Record, error) {
	acct, err := client.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	rec, err := DecodeRecord(acct.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "fetch_nonce", "nonce account is not usable").
			WithContext("address", addr.String())
	}
	return rec, nil
}

// Manager ensures a payer's nonce account exists and reads its value.
type Manager struct {
	client       chain.Client
	bootstrapper Bootstrapper
	logger       *log.Logger

	group singleflight.Group
	known *cache.Cache
}

// NewManager creates a Manager.
func NewManager(client chain.Client, bootstrapper Bootstrapper, logger *log.Logger) *Manager {
	return &Manager{
		client:       client,
		bootstrapper: bootstrapper,
		logger:       logger.WithComponent("nonce"),
		known:        cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// GetOrCreate returns the nonce account of payer, creating it when absent.
// Concurrent callers for the same payer share one lookup, and once an account
// is observed no creation is attempted again.
func (m *Manager) GetOrCreate(ctx context.Context, payer solana.PublicKey) (solana.PublicKey, error) {
	addr, err := Address(payer)
	if err != nil {
		return solana.PublicKey{}, errors.Wrap(err, errors.ErrorTypeInternal, "nonce_address", "failed to derive nonce address")
	}

	key := addr.String()
	if _, ok := m.known.Get(key); ok {
		return addr, nil
	}

	_, err, _ = m.group.Do(key, func() (any, error) {
		if _, ok := m.known.Get(key); ok {
			return nil, nil
		}
		if err := m.ensure(ctx, payer, addr); err != nil {
			return nil, err
		}
		m.known.Set(key, struct{}{}, cache.NoExpiration)
		return nil, nil
	})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return addr, nil
}

func (m *Manager) ensure(ctx context.Context, payer, addr solana.PublicKey) error {
	_, err := m.client.GetAccount(ctx, addr)
	if err == nil {
		return nil
	}
	if !stderrors.Is(err, chain.ErrAccountNotFound) {
		return err
	}

	lamports, err := m.client.GetMinimumBalanceForRentExemption(ctx, AccountSize)
	if err != nil {
		return err
	}

	ixs := CreateInstructions(payer, addr, lamports)
	m.logger.Info("creating nonce account",
		"payer", payer.String(),
		"address", addr.String(),
		"lamports", lamports,
	)

	sig, err := m.bootstrapper.SendBootstrap(ctx, ixs)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransaction, "create_nonce", "failed to create nonce account").
			WithContext("address", addr.String())
	}

	m.logger.Info("nonce account created", "address", addr.String(), "signature", sig.String())
	return nil
}

// CreateInstructions funds and initializes the nonce account at addr with
// payer as authority.
func CreateInstructions(payer, addr solana.PublicKey, lamports uint64) []solana.Instruction {
	return []solana.Instruction{
		system.NewCreateAccountWithSeedInstruction(
			payer, Seed, lamports, AccountSize, solana.SystemProgramID,
			payer, addr, payer,
		).Build(),
		system.NewInitializeNonceAccountInstruction(
			payer, addr, solana.SysVarRecentBlockHashesPubkey, solana.SysVarRentPubkey,
		).Build(),
	}
}

// Current returns the value held by the nonce account at addr. It must be
// read again after any submission that may have consumed it.
func (m *Manager) Current(ctx context.Context, addr solana.PublicKey) (solana.Hash, error) {
	rec, err := Fetch(ctx, m.client, addr)
	if err != nil {
		return solana.Hash{}, err
	}
	return rec.Value, nil
}

// AdvanceInstruction returns the advance-nonce instruction that must lead
// every nonce-path transaction.
func AdvanceInstruction(addr, authority solana.PublicKey) solana.Instruction {
	return system.NewAdvanceNonceAccountInstruction(addr, solana.SysVarRecentBlockHashesPubkey, authority).Build()
}
