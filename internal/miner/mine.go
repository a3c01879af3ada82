package miner

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/internal/pow"
	"github.com/bardlex/goore/internal/submit"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// DefaultClaimEvery is the auto-claim cadence in cycles.
const DefaultClaimEvery = 10

// MineOptions configures Mine.
type MineOptions struct {
	// Threads is the number of search workers per signer; zero uses every CPU.
	Threads int

	// AutoClaim claims rewards before the search of every ClaimEvery-th cycle,
	// starting with the first.
	AutoClaim  bool
	ClaimEvery int

	// Beneficiary receives auto-claimed rewards; nil uses the payer's token account.
	Beneficiary *solana.PublicKey
}

// cycleState is what one cycle reads before searching.
type cycleState struct {
	treasury *ore.Treasury
	proofs   []*ore.Proof
}

// Mine registers missing signers and then mines until ctx is done. It only
// returns early on errors that retrying cannot fix.
func (m *Miner) Mine(ctx context.Context, opts MineOptions) error {
	if opts.Threads <= 0 {
		opts.Threads = defaultThreads()
	}
	if opts.ClaimEvery <= 0 {
		opts.ClaimEvery = DefaultClaimEvery
	}

	if err := m.Register(ctx); err != nil {
		return err
	}

	m.logger.Info("mining started",
		"signers", len(m.session.Signers),
		"threads", opts.Threads,
		"auto_claim", opts.AutoClaim,
	)

	for cycle := uint64(0); ; cycle++ {
		cctx := context.WithValue(ctx, log.CycleKey, cycle)
		if err := m.runCycle(cctx, cycle, opts); err != nil {
			return err
		}
	}
}

// runCycle runs FetchState, AutoClaim, Search, SelectBus and Submit once.
// State read failures are retried here so one flaky signer read never ends
// the loop.
func (m *Miner) runCycle(ctx context.Context, cycle uint64, opts MineOptions) error {
	logger := m.logger.WithContext(ctx)

	st, err := m.fetchStateUntilReady(ctx, logger)
	if err != nil {
		return err
	}

	ev := events.New(events.KindCycle)
	ev.Cycle = cycle
	ev.Signers = len(m.session.Signers)
	ev.RewardRate = st.treasury.RewardRate
	m.recorder.Record(ev)

	if opts.AutoClaim && cycle%uint64(opts.ClaimEvery) == 0 {
		if _, err := m.claim(ctx, opts.Beneficiary, st.proofs); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.IsType(err, errors.ErrorTypeBalance) {
				return err
			}
			logger.WithError(err).Warn("auto-claim failed")
		}
	}

	solutions, err := m.search(ctx, st, opts.Threads)
	if err != nil {
		return err
	}

	return m.submitSolutions(ctx, st, solutions, logger)
}

func (m *Miner) fetchStateUntilReady(ctx context.Context, logger *log.Logger) (*cycleState, error) {
	for {
		st, err := m.fetchState(ctx)
		if err == nil {
			return st, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WithError(err).Warn("state fetch failed, retrying")
		if err := retry.Sleep(ctx, m.cfg.StateRetryDelay); err != nil {
			return nil, err
		}
	}
}

// fetchState reads the treasury and every signer's proof concurrently.
func (m *Miner) fetchState(ctx context.Context) (*cycleState, error) {
	st := &cycleState{proofs: make([]*ore.Proof, len(m.session.Signers))}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		treasury, err := m.reader.GetTreasury(gctx)
		st.treasury = treasury
		return err
	})
	for i, signer := range m.session.Signers {
		g.Go(func() error {
			proof, err := m.reader.GetProof(gctx, signer.PublicKey())
			st.proofs[i] = proof
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

// search runs one search per signer in parallel and waits for all of them.
func (m *Miner) search(ctx context.Context, st *cycleState, threads int) ([]pow.Solution, error) {
	solutions := make([]pow.Solution, len(m.session.Signers))

	g, gctx := errgroup.WithContext(ctx)
	for i, signer := range m.session.Signers {
		g.Go(func() error {
			ch := pow.Challenge{
				Previous:  st.proofs[i].Hash,
				Authority: signer.PublicKey(),
				Target:    st.treasury.Difficulty,
			}
			sol, err := pow.Search(gctx, ch, threads)
			if err != nil {
				return err
			}
			solutions[i] = sol

			pub := signer.PublicKey().String()
			m.logger.WithContext(gctx).WithSigner(pub).
				LogSolution(hex.EncodeToString(sol.Hash[:]), sol.Nonce, sol.Attempts, sol.Elapsed)
			m.recorder.Record(events.Solution(pub, sol.Hash, sol.Nonce, sol.Attempts, sol.Elapsed))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return solutions, nil
}

// submitSolutions selects a bus and submits every solution in one
// transaction, choosing a new bus after each failure.
func (m *Miner) submitSolutions(ctx context.Context, st *cycleState, solutions []pow.Solution, logger *log.Logger) error {
	for attempt := 1; ; attempt++ {
		b, err := m.selector.Select(ctx, st.treasury.RewardRate)
		if err != nil {
			return err
		}
		busID := int(b.ID)
		if !ore.ValidBusID(busID) {
			logger.Warn("selector returned an out of range bus", "bus", b.ID)
			continue
		}

		req, err := m.mineRequest(busID, solutions)
		if err != nil {
			return err
		}

		start := time.Now()
		sig, err := m.engine.Submit(ctx, req)
		m.recorder.Record(m.submissionEvent(req, sig, busID, err))
		if err == nil {
			m.logger.LogSubmission(req.Kind, m.engine.StrategyFor(req).String(), sig.String(), "landed")
			logger.WithBus(busID).Info("cycle complete",
				"attempts", attempt,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			return err
		}
		logger.WithBus(busID).WithError(err).Warn("submission failed", "attempt", attempt)

		// A failed simulation may mean an earlier attempt already landed and
		// moved the proofs forward; the solutions are then spent.
		if errors.IsType(err, errors.ErrorTypeSimulation) && m.proofsMoved(ctx, st) {
			logger.Info("proofs advanced since the search, starting a new cycle")
			return nil
		}

		if err := retry.Sleep(ctx, m.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

func (m *Miner) mineRequest(busID int, solutions []pow.Solution) (submit.Request, error) {
	req := submit.Request{
		Kind:           "mine",
		UnitsPerSigner: ore.CULimitMine,
		CoSigners:      m.session.Signers,
	}
	for i, signer := range m.session.Signers {
		ix, err := ore.NewMineInstruction(signer.PublicKey(), ore.BusAddresses[busID], solutions[i].Hash, solutions[i].Nonce)
		if err != nil {
			return submit.Request{}, err
		}
		req.Instructions = append(req.Instructions, ix)
	}
	return req, nil
}

// proofsMoved reports whether any proof hash changed since st was read.
// Read failures count as unchanged.
func (m *Miner) proofsMoved(ctx context.Context, st *cycleState) bool {
	for i, signer := range m.session.Signers {
		proof, err := m.reader.GetProof(ctx, signer.PublicKey())
		if err != nil {
			return false
		}
		if proof.Hash != st.proofs[i].Hash {
			return true
		}
	}
	return false
}
