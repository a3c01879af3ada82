package bus

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/pkg/log"
)

type fakeReader struct {
	mu      sync.Mutex
	rewards [ore.BusCount]uint64
	failing map[int]bool
	reads   int
}

func (f *fakeReader) GetBus(_ context.Context, id int) (*ore.Bus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failing[id] {
		return nil, errors.New("connection reset")
	}
	return &ore.Bus{ID: uint64(id), Rewards: f.rewards[id]}, nil
}

func unpaced() Config {
	return Config{}
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		rate uint64
		want uint64
	}{
		{0, 0},
		{10, 40},
		{math.MaxUint64 / 4, math.MaxUint64 / 4 * 4},
		{math.MaxUint64, math.MaxUint64},
	}

	for _, tt := range tests {
		if got := Threshold(tt.rate); got != tt.want {
			t.Errorf("Threshold(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestAcceptable(t *testing.T) {
	tests := []struct {
		name    string
		rewards uint64
		rate    uint64
		want    bool
	}{
		{"exactly four times is rejected", 400, 100, false},
		{"one above is accepted", 401, 100, true},
		{"empty bus", 0, 0, false},
		{"saturated threshold", math.MaxUint64, math.MaxUint64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Acceptable(&ore.Bus{Rewards: tt.rewards}, tt.rate); got != tt.want {
				t.Errorf("Acceptable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectNeverReturnsUnderfundedBus(t *testing.T) {
	reader := &fakeReader{failing: map[int]bool{2: true}}
	for i := range reader.rewards {
		reader.rewards[i] = 400 // exactly 4x, never acceptable
	}
	reader.rewards[5] = 401
	reader.rewards[2] = 10_000 // unreadable

	selector := NewSelector(reader, unpaced(), log.Discard())

	for range 20 {
		b, err := selector.Select(context.Background(), 100)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if b.ID != 5 {
			t.Fatalf("Select() returned bus %d with rewards %d", b.ID, b.Rewards)
		}
	}
}

func TestSelectStopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	selector := NewSelector(reader, Config{Jitter: time.Millisecond}, log.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := selector.Select(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Select() error = %v, want deadline exceeded", err)
	}
	if reader.reads == 0 {
		t.Error("Select() never read a bus")
	}
}

func TestSelectRespectsRate(t *testing.T) {
	reader := &fakeReader{}
	selector := NewSelector(reader, Config{Rate: 10}, log.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, _ = selector.Select(ctx, 1)

	reader.mu.Lock()
	defer reader.mu.Unlock()
	// 10 burst tokens plus ~2 refills within the window.
	if reader.reads > 14 {
		t.Errorf("reads = %d, limiter not applied", reader.reads)
	}
}
