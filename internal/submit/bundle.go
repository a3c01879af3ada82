package submit

import (
	"context"
	stderrors "errors"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/relay"
	"github.com/bardlex/goore/internal/txbuilder"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// bundleRelay submits tx as a single-transaction bundle when a relay leader
// is close, resubmitting the same payload after status timeouts. The result
// stream is subscribed before the first send.
func (e *Engine) bundleRelay(ctx context.Context, tx *solana.Transaction, logger *log.Logger) (solana.Signature, error) {
	sig := tx.Signatures[0]

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results, err := e.relay.SubscribeBundleResults(subCtx)
	if err != nil {
		return solana.Signature{}, relayFatal(err, "subscribe")
	}

	for attempt := 1; ; attempt++ {
		leader, err := e.awaitLeader(ctx, logger)
		if err != nil {
			return solana.Signature{}, err
		}

		bundleID, err := e.relay.SendBundle(ctx, leader.Region, []*solana.Transaction{tx})
		if stderrors.Is(err, relay.ErrHandleExpired) {
			logger.Info("relay reports expired nonce, treating as landed", "attempt", attempt)
			return sig, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return solana.Signature{}, ctx.Err()
			}
			return solana.Signature{}, relayFatal(err, "send_bundle")
		}
		logger.Debug("bundle sent",
			"bundle_id", bundleID,
			"region", leader.Region,
			"leader_slot", leader.NextLeaderSlot,
			"attempt", attempt,
		)

		result, err := awaitResult(ctx, results, bundleID)
		if err != nil {
			return solana.Signature{}, err
		}

		switch {
		case result.Landed:
			logger.LogSubmission("nonce", txbuilder.BundleRelay.String(), sig.String(), "landed")
			return sig, nil
		case stderrors.Is(result.Err, relay.ErrHandleExpired):
			logger.Info("bundle rejected for expired nonce, treating as landed", "bundle_id", bundleID)
			return sig, nil
		case stderrors.Is(result.Err, relay.ErrStatusTimeout):
			logger.Info("bundle status timed out, resubmitting", "bundle_id", bundleID, "attempt", attempt)
			continue
		case stderrors.Is(result.Err, relay.ErrBundleFailed):
			// The payload may have landed through another route, which makes
			// the relay's own simulation fail on the consumed nonce.
			status, serr := e.client.GetSignatureStatus(ctx, sig)
			if serr == nil && status != nil {
				if status.Err != nil {
					return sig, landedWithError(sig, status)
				}
				logger.Info("bundle failed but transaction landed", "bundle_id", bundleID)
				return sig, nil
			}
			return solana.Signature{}, relayFatal(result.Err, "bundle_result")
		default:
			return solana.Signature{}, relayFatal(result.Err, "bundle_result")
		}
	}
}

// awaitLeader polls the relay until its next leader is within LeaderGapSlots.
func (e *Engine) awaitLeader(ctx context.Context, logger *log.Logger) (*relay.Leader, error) {
	for {
		leader, err := e.relay.NextScheduledLeader(ctx, e.cfg.Regions)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithError(err).Debug("leader lookup failed")
		case leader.Gap() <= e.cfg.LeaderGapSlots:
			return leader, nil
		default:
			logger.Debug("waiting for relay leader", "gap", leader.Gap(), "region", leader.Region)
		}

		if err := retry.Sleep(ctx, e.cfg.LeaderPollDelay); err != nil {
			return nil, err
		}
	}
}

func awaitResult(ctx context.Context, results <-chan relay.BundleResult, bundleID string) (relay.BundleResult, error) {
	for {
		select {
		case <-ctx.Done():
			return relay.BundleResult{}, ctx.Err()
		case res, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					return relay.BundleResult{}, err
				}
				return relay.BundleResult{}, relayFatal(stderrors.New("result stream closed"), "bundle_result")
			}
			if res.BundleID == bundleID {
				return res, nil
			}
		}
	}
}

func relayFatal(err error, operation string) error {
	se := errors.Wrap(err, errors.ErrorTypeRelay, operation, "relay submission failed")
	se.Retryable = false
	return se
}
