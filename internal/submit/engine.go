// Package submit delivers signed transactions and reports durable inclusion.
//
// Program transactions use the durable-nonce path and one of two strategies:
// DirectPoll broadcasts to the RPC node and polls signature status, while
// BundleRelay hands a single-transaction bundle to a block-building relay
// gated on the leader schedule. The blockhash path (SendBootstrap) exists only
// to create the nonce account itself and other payer-only setup.
package submit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/nonce"
	"github.com/bardlex/goore/internal/relay"
	"github.com/bardlex/goore/internal/txbuilder"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
)

// Config holds delivery tuning.
type Config struct {
	PriorityFee uint64

	// DirectPoll
	PollDelay       time.Duration
	NonceMaxRetries uint

	// Bootstrap path
	ConfirmRetries       int
	ConfirmDelay         time.Duration
	MaxBootstrapAttempts int
	ResignEvery          int
	RetryDelay           time.Duration

	// BundleRelay
	Regions          []string
	LeaderGapSlots   uint64
	LeaderPollDelay  time.Duration
	RelayPriorityFee uint64
	TipLamports      uint64
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		PollDelay:            300 * time.Millisecond,
		NonceMaxRetries:      3,
		ConfirmRetries:       5,
		ConfirmDelay:         500 * time.Millisecond,
		MaxBootstrapAttempts: 5,
		ResignEvery:          1,
		RetryDelay:           200 * time.Millisecond,
		Regions:              relay.DefaultRegions,
		LeaderGapSlots:       2,
		LeaderPollDelay:      400 * time.Millisecond,
		RelayPriorityFee:     txbuilder.DefaultRelayPriorityFee,
		TipLamports:          100_000,
	}
}

// Request is one program submission.
type Request struct {
	// Kind names the operation for logs.
	Kind string

	// Instructions are the domain instructions in order.
	Instructions []solana.Instruction

	// UnitsPerSigner is the compute budget of one identity's instruction.
	UnitsPerSigner uint32

	// Batch is the number of identities batched; zero means one per
	// instruction.
	Batch int

	// CoSigners sign alongside the payer. The payer may be listed; it is
	// never duplicated.
	CoSigners []solana.PrivateKey

	// SuppressRelay forces DirectPoll even when a relay is configured.
	SuppressRelay bool
}

func (r Request) batch() int {
	if r.Batch > 0 {
		return r.Batch
	}
	return len(r.Instructions)
}

// Engine serializes all deliveries of one mining session.
type Engine struct {
	client chain.Client
	payer  solana.PrivateKey
	relay  relay.Relay
	nonces *nonce.Manager
	cfg    Config
	logger *log.Logger

	mu sync.Mutex
}

// NewEngine creates an Engine. relay may be nil, in which case every
// submission uses DirectPoll.
func NewEngine(client chain.Client, payer solana.PrivateKey, r relay.Relay, cfg Config, logger *log.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = def.PollDelay
	}
	if cfg.ConfirmRetries <= 0 {
		cfg.ConfirmRetries = def.ConfirmRetries
	}
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = def.ConfirmDelay
	}
	if cfg.MaxBootstrapAttempts <= 0 {
		cfg.MaxBootstrapAttempts = def.MaxBootstrapAttempts
	}
	if cfg.ResignEvery <= 0 {
		cfg.ResignEvery = def.ResignEvery
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = def.Regions
	}
	if cfg.LeaderPollDelay <= 0 {
		cfg.LeaderPollDelay = def.LeaderPollDelay
	}
	if cfg.TipLamports == 0 {
		cfg.TipLamports = def.TipLamports
	}

	e := &Engine{
		client: client,
		payer:  payer,
		relay:  r,
		cfg:    cfg,
		logger: logger.WithComponent("submit"),
	}
	e.nonces = nonce.NewManager(client, nonce.BootstrapperFunc(e.sendBootstrap), logger)
	return e
}

// Payer returns the fee payer.
func (e *Engine) Payer() solana.PublicKey {
	return e.payer.PublicKey()
}

// StrategyFor returns the strategy Submit will use for req.
func (e *Engine) StrategyFor(req Request) txbuilder.Strategy {
	if e.relay != nil && !req.SuppressRelay {
		return txbuilder.BundleRelay
	}
	return txbuilder.DirectPoll
}

// NonceAccount returns the payer's nonce account, creating it if needed.
func (e *Engine) NonceAccount(ctx context.Context) (solana.PublicKey, error) {
	return e.nonces.GetOrCreate(ctx, e.Payer())
}

// Submit delivers req over the durable-nonce path and returns the landed
// signature. The nonce value is read fresh on every call.
func (e *Engine) Submit(ctx context.Context, req Request) (solana.Signature, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(req.Instructions) == 0 {
		return solana.Signature{}, errors.New(errors.ErrorTypeValidation, "submit", "request has no instructions")
	}

	strategy := e.StrategyFor(req)
	signers := e.signerSet(req.CoSigners)

	nonceAccount, err := e.nonces.GetOrCreate(ctx, e.Payer())
	if err != nil {
		return solana.Signature{}, err
	}

	plan := txbuilder.Plan{
		NonceAccount:     nonceAccount,
		Payer:            e.Payer(),
		Instructions:     req.Instructions,
		UnitsPerSigner:   req.UnitsPerSigner,
		Signers:          req.batch(),
		Strategy:         strategy,
		PriorityFee:      e.cfg.PriorityFee,
		RelayPriorityFee: e.cfg.RelayPriorityFee,
		TipLamports:      e.cfg.TipLamports,
	}
	if strategy == txbuilder.BundleRelay {
		tip, err := e.relay.TipAccount(ctx)
		if err != nil {
			return solana.Signature{}, errors.Wrap(err, errors.ErrorTypeRelay, "tip_account", "failed to resolve relay tip account")
		}
		plan.TipAccount = tip
	}

	ixs, err := txbuilder.Build(plan)
	if err != nil {
		return solana.Signature{}, err
	}

	value, err := e.nonces.Current(ctx, nonceAccount)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := sign(ixs, value, e.Payer(), signers)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := e.simulate(ctx, tx); err != nil {
		return solana.Signature{}, err
	}

	logger := e.logger.WithFields("kind", req.Kind, "strategy", strategy.String(), "signature", tx.Signatures[0].String())
	logger.Debug("submitting transaction", "signers", len(signers))

	switch strategy {
	case txbuilder.BundleRelay:
		return e.bundleRelay(ctx, tx, logger)
	default:
		return e.directPoll(ctx, tx, logger)
	}
}

// SendBootstrap delivers payer-only instructions over the blockhash path.
func (e *Engine) SendBootstrap(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendBootstrap(ctx, ixs)
}

// signerSet returns the payer followed by the distinct co-signers.
func (e *Engine) signerSet(coSigners []solana.PrivateKey) map[solana.PublicKey]solana.PrivateKey {
	set := make(map[solana.PublicKey]solana.PrivateKey, len(coSigners)+1)
	set[e.Payer()] = e.payer
	for _, k := range coSigners {
		set[k.PublicKey()] = k
	}
	return set
}

func sign(ixs []solana.Instruction, value solana.Hash, payer solana.PublicKey, signers map[solana.PublicKey]solana.PrivateKey) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(ixs, value, solana.TransactionPayer(payer))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build_transaction", "failed to assemble transaction")
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if k, ok := signers[key]; ok {
			return &k
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "sign_transaction", "failed to sign transaction")
	}
	return tx, nil
}

// simulate rejects tx before it is ever broadcast when the node predicts
// failure.
func (e *Engine) simulate(ctx context.Context, tx *solana.Transaction) error {
	res, err := e.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return err
	}
	if res.Failed() {
		e.logger.Warn("simulation failed", "error", fmt.Sprint(res.Err), "logs", res.Logs)
		return errors.New(errors.ErrorTypeSimulation, "simulate", "transaction simulation failed").
			WithContext("error", fmt.Sprint(res.Err)).
			WithContext("logs", res.Logs)
	}
	return nil
}

// SimulationLogs returns the program logs attached to a simulation failure.
func SimulationLogs(err error) []string {
	if !errors.IsType(err, errors.ErrorTypeSimulation) {
		return nil
	}
	logs, _ := errors.GetContext(err)["logs"].([]string)
	return logs
}
