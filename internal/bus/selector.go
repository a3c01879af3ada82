// Package bus picks a reward bus with enough balance to pay a mine submission.
package bus

import (
	"context"
	"math"
	"math/bits"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// FundingMultiple is how many reward periods a bus must hold to be chosen.
const FundingMultiple = 4

// Reader is the subset of the state reader the selector needs.
type Reader interface {
	GetBus(ctx context.Context, id int) (*ore.Bus, error)
}

// Config controls selection pacing.
type Config struct {
	// Rate is the maximum number of bus reads per second; zero or less is unlimited.
	Rate float64
	// Jitter is the upper bound of the random pause after a rejected bus.
	Jitter time.Duration
}

// DefaultConfig returns the pacing used by the miner.
func DefaultConfig() Config {
	return Config{Rate: 20, Jitter: 25 * time.Millisecond}
}

// Selector samples buses uniformly until one is sufficiently funded.
type Selector struct {
	reader  Reader
	limiter *rate.Limiter
	jitter  time.Duration
	logger  *log.Logger
}

// NewSelector creates a Selector.
func NewSelector(reader Reader, cfg Config, logger *log.Logger) *Selector {
	limit := rate.Inf
	burst := 1
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
		burst = max(1, int(cfg.Rate))
	}
	return &Selector{
		reader:  reader,
		limiter: rate.NewLimiter(limit, burst),
		jitter:  cfg.Jitter,
		logger:  logger.WithComponent("bus_selector"),
	}
}

// Threshold returns FundingMultiple × rewardRate, saturating at the maximum.
func Threshold(rewardRate uint64) uint64 {
	hi, lo := bits.Mul64(rewardRate, FundingMultiple)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// Acceptable reports whether b can fund a submission at rewardRate.
func Acceptable(b *ore.Bus, rewardRate uint64) bool {
	return b != nil && b.Rewards > Threshold(rewardRate)
}

// Select returns a bus holding more than Threshold(rewardRate). Read failures
// and underfunded buses are retried until ctx is done.
func (s *Selector) Select(ctx context.Context, rewardRate uint64) (*ore.Bus, error) {
	threshold := Threshold(rewardRate)

	for attempt := 1; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		id := rand.IntN(ore.BusCount)
		b, err := s.reader.GetBus(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.WithBus(id).WithError(err).Debug("bus read failed", "attempt", attempt)
		case b.Rewards > threshold:
			s.logger.WithBus(id).Debug("bus selected",
				"rewards", ore.FormatAmount(b.Rewards),
				"attempt", attempt,
			)
			return b, nil
		default:
			s.logger.WithBus(id).Debug("bus underfunded",
				"rewards", b.Rewards,
				"threshold", threshold,
			)
		}

		if s.jitter > 0 {
			if err := retry.Sleep(ctx, rand.N(s.jitter)); err != nil {
				return nil, err
			}
		}
	}
}
