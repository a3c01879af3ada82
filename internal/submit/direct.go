package submit

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/txbuilder"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// directPoll rebroadcasts tx until any status is observed for it. The
// durable nonce allows at most one inclusion of the payload, so re-sending
// a transaction that already landed is harmless.
func (e *Engine) directPoll(ctx context.Context, tx *solana.Transaction, logger *log.Logger) (solana.Signature, error) {
	sig := tx.Signatures[0]
	maxRetries := e.cfg.NonceMaxRetries

	for attempt := 1; ; attempt++ {
		if _, err := e.client.SendTransaction(ctx, tx, chain.SendOptions{
			SkipPreflight: true,
			MaxRetries:    &maxRetries,
		}); err != nil {
			if ctx.Err() != nil {
				return solana.Signature{}, ctx.Err()
			}
			logger.WithError(err).Debug("broadcast failed", "attempt", attempt)
		}

		if err := retry.Sleep(ctx, e.cfg.PollDelay); err != nil {
			return solana.Signature{}, err
		}

		status, err := e.client.GetSignatureStatus(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				return solana.Signature{}, ctx.Err()
			}
			logger.WithError(err).Debug("status poll failed", "attempt", attempt)
			continue
		}
		if status == nil {
			logger.Debug("transaction not yet landed", "attempt", attempt)
			continue
		}

		if status.Err != nil {
			return sig, landedWithError(sig, status)
		}
		logger.LogSubmission("nonce", txbuilder.DirectPoll.String(), sig.String(), "landed")
		return sig, nil
	}
}

func landedWithError(sig solana.Signature, status *chain.SignatureStatus) error {
	return errors.New(errors.ErrorTypeTransaction, "submit", "transaction landed with an execution error").
		WithContext("signature", sig.String()).
		WithContext("slot", status.Slot).
		WithContext("error", fmt.Sprint(status.Err))
}

// sendBootstrap delivers payer-only instructions against a recent blockhash.
// Each attempt broadcasts and then polls every signature sent so far up to
// ConfirmRetries times for Confirmed commitment. The transaction is re-signed
// on a fresh blockhash every ResignEvery attempts.
func (e *Engine) sendBootstrap(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error) {
	payer := e.Payer()
	logger := e.logger.WithFields("kind", "bootstrap", "strategy", "blockhash")

	balance, err := e.client.GetBalance(ctx, payer)
	if err != nil {
		return solana.Signature{}, err
	}
	if balance == 0 {
		return solana.Signature{}, errors.New(errors.ErrorTypeBalance, "send_bootstrap", "payer has no balance for fees").
			WithContext("payer", payer.String())
	}

	ixs = txbuilder.BuildBootstrap(ixs, e.cfg.PriorityFee)
	signers := e.signerSet(nil)

	block, err := e.client.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := sign(ixs, block.Hash, payer, signers)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := e.simulate(ctx, tx); err != nil {
		return solana.Signature{}, err
	}

	var (
		sigs       []solana.Signature
		maxRetries uint
	)
	for attempt := 0; attempt < e.cfg.MaxBootstrapAttempts; attempt++ {
		if attempt > 0 && attempt%e.cfg.ResignEvery == 0 {
			block, err = e.client.GetLatestBlockhash(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return solana.Signature{}, ctx.Err()
				}
				logger.WithError(err).Warn("blockhash refresh failed", "attempt", attempt)
			} else if tx, err = sign(ixs, block.Hash, payer, signers); err != nil {
				return solana.Signature{}, err
			}
		}

		minSlot := block.Slot
		sig, err := e.client.SendTransaction(ctx, tx, chain.SendOptions{
			SkipPreflight:  true,
			MaxRetries:     &maxRetries,
			MinContextSlot: &minSlot,
		})
		if err != nil {
			if ctx.Err() != nil {
				return solana.Signature{}, ctx.Err()
			}
			logger.WithError(err).Warn("bootstrap broadcast failed", "attempt", attempt)
		} else {
			sigs = appendUnique(sigs, sig)
			landed, err := e.confirm(ctx, sigs, logger)
			if err != nil {
				return solana.Signature{}, err
			}
			if !landed.IsZero() {
				logger.LogSubmission("bootstrap", "blockhash", landed.String(), "confirmed")
				return landed, nil
			}
			logger.Info("bootstrap transaction did not land", "attempt", attempt)
		}

		if err := retry.Sleep(ctx, e.cfg.RetryDelay); err != nil {
			return solana.Signature{}, err
		}
	}

	return solana.Signature{}, errors.New(errors.ErrorTypeRetriesExceeded, "send_bootstrap", "bootstrap transaction did not confirm").
		WithContext("attempts", e.cfg.MaxBootstrapAttempts)
}

// confirm polls sigs until one reaches Confirmed. It returns the zero
// signature when none did within ConfirmRetries polls.
func (e *Engine) confirm(ctx context.Context, sigs []solana.Signature, logger *log.Logger) (solana.Signature, error) {
	for range e.cfg.ConfirmRetries {
		if err := retry.Sleep(ctx, e.cfg.ConfirmDelay); err != nil {
			return solana.Signature{}, err
		}
		for _, sig := range sigs {
			status, err := e.client.GetSignatureStatus(ctx, sig)
			if err != nil {
				logger.WithError(err).Debug("confirmation poll failed")
				continue
			}
			if status == nil {
				continue
			}
			if status.Err != nil {
				return solana.Signature{}, landedWithError(sig, status)
			}
			if status.Commitment.AtLeast(chain.CommitmentConfirmed) {
				return sig, nil
			}
		}
	}
	return solana.Signature{}, nil
}

func appendUnique(sigs []solana.Signature, sig solana.Signature) []solana.Signature {
	for _, s := range sigs {
		if s == sig {
			return sigs
		}
	}
	return append(sigs, sig)
}
