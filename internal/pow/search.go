// Package pow implements the parallel nonce search against the program's
// difficulty target.
//
// A candidate is Keccak-256(previous ‖ authority ‖ little_endian(nonce)) and
// qualifies when its big-endian value is at most the target. The 64-bit nonce
// space is split into one contiguous range per worker.
package pow

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/sha3"
)

// CheckInterval is the number of hashes a worker computes between looks at
// the stop flag and the context.
const CheckInterval = 10_000

// ErrExhausted is returned when every worker finished its range without a
// qualifying hash.
var ErrExhausted = errors.New("nonce space exhausted")

// hasherPool reuses Keccak states across Hash calls.
var hasherPool = sync.Pool{
	New: func() any {
		return sha3.NewLegacyKeccak256()
	},
}

// Challenge is the input of one search.
type Challenge struct {
	Previous  [32]byte
	Authority solana.PublicKey
	Target    [32]byte
}

// Solution is a nonce whose hash meets the target.
type Solution struct {
	Hash     [32]byte
	Nonce    uint64
	Attempts uint64
	Elapsed  time.Duration
}

// Hashrate returns hashes per second over the search.
func (s Solution) Hashrate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Attempts) / s.Elapsed.Seconds()
}

// Hash computes the candidate hash for nonce.
func Hash(previous [32]byte, authority solana.PublicKey, nonce uint64) [32]byte {
	h := hasherPool.Get().(hash.Hash)
	defer hasherPool.Put(h)
	h.Reset()

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	h.Write(previous[:])
	h.Write(authority[:])
	h.Write(n[:])

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// MeetsTarget reports whether hash ≤ target as unsigned big-endian integers.
func MeetsTarget(hash, target [32]byte) bool {
	return bytes.Compare(hash[:], target[:]) <= 0
}

// WorkerStarts returns the first nonce of each of workers ranges:
// i * floor(2^64 / workers).
func WorkerStarts(workers int) []uint64 {
	if workers < 1 {
		workers = 1
	}
	starts := make([]uint64, workers)
	if workers == 1 {
		return starts
	}
	span, _ := bits.Div64(1, 0, uint64(workers))
	for i := range starts {
		starts[i] = uint64(i) * span
	}
	return starts
}

// Search runs workers goroutines over the nonce space and returns the first
// qualifying solution. It returns only after every worker has stopped.
// Cancellation is observed at the same boundary as the stop flag.
func Search(ctx context.Context, ch Challenge, workers int) (Solution, error) {
	starts := WorkerStarts(workers)
	began := time.Now()

	var (
		stop     atomic.Bool
		attempts atomic.Uint64
		wg       sync.WaitGroup
	)
	// Capacity one: the CAS on stop admits exactly one sender.
	winner := make(chan Solution, 1)

	for i, start := range starts {
		end := uint64(0) // wraps: last range runs to 2^64-1
		if i+1 < len(starts) {
			end = starts[i+1]
		}

		wg.Add(1)
		go func(start, end uint64) {
			defer wg.Done()
			sol, found, n := searchRange(ctx, ch, start, end, &stop)
			attempts.Add(n)
			if found && stop.CompareAndSwap(false, true) {
				winner <- sol
			}
		}(start, end)
	}

	wg.Wait()

	select {
	case sol := <-winner:
		sol.Attempts = attempts.Load()
		sol.Elapsed = time.Since(began)
		return sol, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}
	return Solution{}, ErrExhausted
}

// searchRange scans [start, end) where end == 0 means the top of the space.
func searchRange(ctx context.Context, ch Challenge, start, end uint64, stop *atomic.Bool) (Solution, bool, uint64) {
	h := sha3.NewLegacyKeccak256()
	buf := make([]byte, 72)
	copy(buf[:32], ch.Previous[:])
	copy(buf[32:64], ch.Authority[:])

	var (
		out   [32]byte
		count uint64
	)
	nonce := start
	for {
		if count%CheckInterval == 0 && count > 0 {
			if stop.Load() || ctx.Err() != nil {
				return Solution{}, false, count
			}
		}

		binary.LittleEndian.PutUint64(buf[64:], nonce)
		h.Reset()
		h.Write(buf)
		h.Sum(out[:0])
		count++

		if MeetsTarget(out, ch.Target) {
			return Solution{Hash: out, Nonce: nonce}, true, count
		}

		nonce++
		if nonce == end {
			return Solution{}, false, count
		}
	}
}
