package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "sub-fetch", fastRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("throttled")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cause := errors.New("upstream down")
	calls := 0
	err := Retry(context.Background(), "sub-fetch", fastRetryConfig(), func() error {
		calls++
		return cause
	})
	if err == nil {
		t.Fatal("exhausted retry must fail")
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, must wrap the last failure", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, "sub-fetch", fastRetryConfig(), func() error {
		calls++
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries after cancellation)", calls)
	}
}

func TestRetryDefaultsSizedForCrawls(t *testing.T) {
	cfg := RetryConfig{}.withDefaults()
	if cfg.MaxAttempts != 4 {
		t.Errorf("max attempts = %d, want 4", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 500*time.Millisecond {
		t.Errorf("initial delay = %v, want 500ms", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("max delay = %v, want 30s", cfg.MaxDelay)
	}
}

func TestDelayIsCappedAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		Multiplier:     10,
		JitterFraction: 0.01,
	}
	if d := cfg.delay(4); d > cfg.MaxDelay {
		t.Errorf("delay = %v, must not exceed %v", d, cfg.MaxDelay)
	}
}
