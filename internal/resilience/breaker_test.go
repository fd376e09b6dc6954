package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, Cooldown: time.Hour})

	for i := range 3 {
		if err := b.Run(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want errBoom", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", 3, got)
	}

	// Open breaker rejects without calling fn.
	called := false
	err := b.Run(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("got %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Fatal("fn was called while breaker open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: time.Hour})

	b.Run(func() error { return errBoom })
	b.Run(func() error { return nil })
	b.Run(func() error { return errBoom })

	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (success should reset the counter)", got)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond, ProbeMax: 2})

	b.Run(func() error { return errBoom })
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", got)
	}

	// Two successful probes close the breaker.
	for range 2 {
		if err := b.Run(func() error { return nil }); err != nil {
			t.Fatalf("probe call failed: %v", err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after probes = %v, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Millisecond, ProbeMax: 2})

	b.Run(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	b.Run(func() error { return errBoom })
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", got)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	b.Run(func() error { return errBoom })
	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after reset = %v, want closed", got)
	}
}
