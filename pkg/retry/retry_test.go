package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/bardlex/goore/pkg/errors"
)

// fast retries immediately
func fast(attempts int) *Config {
	return &Config{MaxAttempts: attempts, Multiplier: 1}
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		minAttempts int
		jitter      bool
	}{
		{"default", DefaultConfig(), 3, true},
		{"rpc", RPCConfig(), 5, true},
		{"send", SendConfig(), 2, false},
		{"storage", StorageConfig(), 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.minAttempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.minAttempts)
			}
			if tt.config.Jitter != tt.jitter {
				t.Errorf("Jitter = %v, want %v", tt.config.Jitter, tt.jitter)
			}
			if tt.config.BaseDelay > tt.config.MaxDelay {
				t.Errorf("BaseDelay %v exceeds MaxDelay %v", tt.config.BaseDelay, tt.config.MaxDelay)
			}
		})
	}

	if SendConfig().MaxDelay >= RPCConfig().MaxDelay {
		t.Error("sends should give up sooner than reads")
	}
}

func TestDoRetriesTransientRPCErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(5), func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeRPC, "get_account", "429 too many requests")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"simulation", errors.New(errors.ErrorTypeSimulation, "simulate", "custom program error: 0x3")},
		{"not registered", errors.New(errors.ErrorTypeNotRegistered, "get_proof", "proof account does not exist")},
		{"balance", errors.New(errors.ErrorTypeBalance, "bootstrap", "payer has no lamports")},
		{"plain", stderrors.New("invalid account data")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(5), func() error {
				calls++
				return tt.err
			})

			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			if !stderrors.Is(err, tt.err) {
				t.Errorf("Do() error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestDoExhaustionKeepsClassification(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(3), func() error {
		calls++
		return errors.New(errors.ErrorTypeRPC, "get_slot", "connection reset")
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.IsType(err, errors.ErrorTypeRPC) {
		t.Errorf("exhausted error lost its rpc type: %v", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("exhausted rpc error should stay retryable for the caller's loop")
	}
	if got := errors.GetContext(err)["attempts"]; got != 3 {
		t.Errorf("attempts context = %v, want 3", got)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	slot, err := DoWithResult(context.Background(), fast(3), func() (uint64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New(errors.ErrorTypeTimeout, "get_slot", "deadline")
		}
		return 42, nil
	})

	if err != nil || slot != 42 {
		t.Fatalf("DoWithResult() = %d, %v", slot, err)
	}

	slot, err = DoWithResult(context.Background(), fast(2), func() (uint64, error) {
		return 7, errors.New(errors.ErrorTypeRPC, "get_slot", "503")
	})
	if err == nil || slot != 0 {
		t.Errorf("DoWithResult() = %d, %v; want zero value and error", slot, err)
	}
}

func TestDoNilConfigAndZeroAttempts(t *testing.T) {
	calls := 0
	if err := Do(context.Background(), nil, func() error { calls++; return nil }); err != nil {
		t.Fatalf("Do(nil config) error = %v", err)
	}

	err := Do(context.Background(), &Config{}, func() error {
		calls++
		return errors.New(errors.ErrorTypeRPC, "get_account", "reset")
	})
	if err == nil {
		t.Error("Do() should fail")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (a zero MaxAttempts still runs once)", calls)
	}
}

func TestDoContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	calls := 0
	err := Do(ctx, config, func() error {
		calls++
		cancel()
		return errors.New(errors.ErrorTypeRPC, "get_account", "reset")
	})

	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoff(t *testing.T) {
	config := &Config{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := config.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	config := &Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}

	for range 50 {
		got := config.Backoff(0)
		if got < 100*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("Backoff(0) = %v, want within 10%% above 100ms", got)
		}
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !stderrors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if err := Sleep(ctx, 0); !stderrors.Is(err, context.Canceled) {
		t.Errorf("Sleep(0) on a done context = %v, want context.Canceled", err)
	}
}
