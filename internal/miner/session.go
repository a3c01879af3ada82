// Package miner drives the register, mine and claim operations for a set of
// mining identities sharing one fee payer.
package miner

import (
	"context"
	"runtime"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/bus"
	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/state"
	"github.com/bardlex/goore/internal/submit"
	"github.com/bardlex/goore/internal/txbuilder"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
)

// Session is the immutable description of one mining run. The first signer
// pays fees and owns the nonce account.
type Session struct {
	Signers         []solana.PrivateKey
	PriorityFee     uint64
	Endpoint        string
	RelayCredential string
}

// Payer returns the fee payer.
func (s Session) Payer() solana.PrivateKey {
	return s.Signers[0]
}

// PublicKeys returns the signer public keys in order.
func (s Session) PublicKeys() []solana.PublicKey {
	keys := make([]solana.PublicKey, len(s.Signers))
	for i, signer := range s.Signers {
		keys[i] = signer.PublicKey()
	}
	return keys
}

// Validate checks the session has at least one signer and no duplicates.
func (s Session) Validate() error {
	if len(s.Signers) == 0 {
		return errors.New(errors.ErrorTypeValidation, "session", "at least one signer is required")
	}
	seen := make(map[solana.PublicKey]struct{}, len(s.Signers))
	for _, signer := range s.Signers {
		pub := signer.PublicKey()
		if _, dup := seen[pub]; dup {
			return errors.New(errors.ErrorTypeValidation, "session", "duplicate signer").
				WithContext("signer", pub.String())
		}
		seen[pub] = struct{}{}
	}
	return nil
}

// Submitter delivers program instructions for the session.
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (solana.Signature, error)
	StrategyFor(req submit.Request) txbuilder.Strategy
	Payer() solana.PublicKey
}

var _ Submitter = (*submit.Engine)(nil)

// Recorder receives telemetry events. It must not block.
type Recorder interface {
	Record(e *events.Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(*events.Event) {}

// Config tunes the orchestrator loops.
type Config struct {
	Bus bus.Config

	// RetryDelay separates submission attempts within one cycle.
	RetryDelay time.Duration

	// StateRetryDelay separates failed state fetches.
	StateRetryDelay time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Bus:             bus.DefaultConfig(),
		RetryDelay:      time.Second,
		StateRetryDelay: 2 * time.Second,
	}
}

// Miner runs the operations of one session.
type Miner struct {
	session  Session
	client   chain.Client
	reader   *state.Reader
	selector *bus.Selector
	engine   Submitter
	recorder Recorder
	cfg      Config
	logger   *log.Logger
}

// New creates a Miner. recorder may be nil.
func New(session Session, client chain.Client, engine Submitter, recorder Recorder, cfg Config, logger *log.Logger) (*Miner, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if !engine.Payer().Equals(session.Payer().PublicKey()) {
		return nil, errors.New(errors.ErrorTypeValidation, "session", "engine payer differs from the first signer")
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	def := DefaultConfig()
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.StateRetryDelay <= 0 {
		cfg.StateRetryDelay = def.StateRetryDelay
	}

	logger = logger.WithComponent("miner")
	reader := state.NewReader(client)
	return &Miner{
		session:  session,
		client:   client,
		reader:   reader,
		selector: bus.NewSelector(reader, cfg.Bus, logger),
		engine:   engine,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// fatal reports errors that end an operation instead of being retried.
// Only an unfunded payer or an exhausted bootstrap send stops the run.
func fatal(err error) bool {
	return errors.IsType(err, errors.ErrorTypeBalance) ||
		errors.IsType(err, errors.ErrorTypeRetriesExceeded)
}

// defaultThreads is the worker count used when none is given.
func defaultThreads() int {
	return runtime.NumCPU()
}

func (m *Miner) submissionEvent(req submit.Request, sig solana.Signature, busID int, err error) *events.Event {
	kind := events.KindSubmission
	if err != nil {
		kind = events.KindSubmissionFailed
	}
	e := events.New(kind)
	e.Signer = m.session.Payer().PublicKey().String()
	e.Operation = req.Kind
	e.Strategy = m.engine.StrategyFor(req).String()
	e.Bus = busID
	e.Signers = signerCount(m.session.Payer().PublicKey(), req.CoSigners)
	if err != nil {
		e.Error = err.Error()
	} else {
		e.Signature = sig.String()
	}
	return e
}

// signerCount counts the payer plus every distinct co-signer.
func signerCount(payer solana.PublicKey, coSigners []solana.PrivateKey) int {
	n := 1
	for _, s := range coSigners {
		if !s.PublicKey().Equals(payer) {
			n++
		}
	}
	return n
}
