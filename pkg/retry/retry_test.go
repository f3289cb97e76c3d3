package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Immediate(5), func(attempt int) error {
		calls++
		if attempt < 3 {
			return Retryable(errBusy)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Immediate(4), func(int) error {
		calls++
		return Retryable(errBusy)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errBusy) {
		t.Errorf("err = %v, want to wrap the last failure", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoNonRetryableStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Immediate(4), func(int) error {
		calls++
		return errBusy
	})
	if !errors.Is(err, errBusy) || errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{}, func(int) error {
		calls++
		return Retryable(errBusy)
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	got, err := DoWithResult(context.Background(), Immediate(2), func(attempt int) (string, error) {
		if attempt == 1 {
			return "", Retryable(errBusy)
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("DoWithResult = %q, %v", got, err)
	}
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 3, InitialWait: time.Second, Multiplier: 2}
	err := Do(ctx, cfg, func(int) error { return Retryable(errBusy) })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{InitialWait: 100 * time.Millisecond, MaxWait: 300 * time.Millisecond, Multiplier: 2}
	if got := cfg.backoff(1); got != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v", got)
	}
	if got := cfg.backoff(5); got != 300*time.Millisecond {
		t.Errorf("backoff(5) = %v", got)
	}
}
