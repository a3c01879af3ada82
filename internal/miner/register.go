package miner

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/internal/submit"
	"github.com/bardlex/goore/pkg/retry"
)

// Register opens a proof account for every signer that lacks one, in a
// single transaction. It returns once every signer is registered.
func (m *Miner) Register(ctx context.Context) error {
	for {
		pending, err := m.unregistered(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.WithError(err).Warn("registration check failed, retrying")
			if err := retry.Sleep(ctx, m.cfg.StateRetryDelay); err != nil {
				return err
			}
			continue
		}
		if len(pending) == 0 {
			m.logger.Info("all signers registered", "signers", len(m.session.Signers))
			return nil
		}

		req, err := registerRequest(pending)
		if err != nil {
			return err
		}

		sig, err := m.engine.Submit(ctx, req)
		m.recorder.Record(m.submissionEvent(req, sig, -1, err))
		if err == nil {
			for _, signer := range pending {
				e := events.New(events.KindRegistration)
				e.Signer = signer.PublicKey().String()
				e.Signature = sig.String()
				m.recorder.Record(e)
			}
			m.logger.LogSubmission(req.Kind, m.engine.StrategyFor(req).String(), sig.String(), "landed")
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal(err) {
			return err
		}
		m.logger.WithError(err).Warn("registration failed, retrying", "pending", len(pending))
		if err := retry.Sleep(ctx, m.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

// unregistered returns the signers without a proof account, in session order.
func (m *Miner) unregistered(ctx context.Context) ([]solana.PrivateKey, error) {
	registered := make([]bool, len(m.session.Signers))

	g, gctx := errgroup.WithContext(ctx)
	for i, signer := range m.session.Signers {
		g.Go(func() error {
			ok, err := m.reader.IsRegistered(gctx, signer.PublicKey())
			registered[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pending []solana.PrivateKey
	for i, signer := range m.session.Signers {
		if !registered[i] {
			pending = append(pending, signer)
		}
	}
	return pending, nil
}

func registerRequest(signers []solana.PrivateKey) (submit.Request, error) {
	req := submit.Request{
		Kind:           "register",
		UnitsPerSigner: ore.CULimitRegister,
		CoSigners:      signers,
	}
	for _, signer := range signers {
		ix, err := ore.NewRegisterInstruction(signer.PublicKey())
		if err != nil {
			return submit.Request{}, err
		}
		req.Instructions = append(req.Instructions, ix)
	}
	return req, nil
}
