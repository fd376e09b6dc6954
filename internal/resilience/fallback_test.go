package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loopscribe/loopscribe/pkg/transcribe"
	"github.com/loopscribe/loopscribe/pkg/transcribe/mock"
)

func TestEngineFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	t.Parallel()

	primary := &mock.Engine{Results: []string{"from primary"}}
	secondary := &mock.Engine{Results: []string{"from secondary"}}

	f := NewEngineFallback(primary, "primary", BreakerConfig{Cooldown: time.Hour})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), transcribe.Request{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from primary" {
		t.Fatalf("text = %q, want %q", res.Text, "from primary")
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary was called %d times, want 0", secondary.CallCount())
	}
}

func TestEngineFallbackCascadesOnFailure(t *testing.T) {
	t.Parallel()

	primary := &mock.Engine{Err: errors.New("backend down")}
	secondary := &mock.Engine{Results: []string{"rescued"}}

	f := NewEngineFallback(primary, "primary", BreakerConfig{MaxFailures: 5, Cooldown: time.Hour})
	f.AddFallback("secondary", secondary)

	res, err := f.Transcribe(context.Background(), transcribe.Request{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "rescued" {
		t.Fatalf("text = %q, want %q", res.Text, "rescued")
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary was called %d times, want exactly 1 (no per-chunk retry)", primary.CallCount())
	}
}

func TestEngineFallbackSkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &mock.Engine{Err: errors.New("backend down")}
	secondary := &mock.Engine{Results: []string{"a", "b", "c"}}

	f := NewEngineFallback(primary, "primary", BreakerConfig{MaxFailures: 2, Cooldown: time.Hour})
	f.AddFallback("secondary", secondary)

	for range 3 {
		if _, err := f.Transcribe(context.Background(), transcribe.Request{}); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}
	// Breaker trips after 2 failures; the third chunk must not touch the
	// primary at all.
	if primary.CallCount() != 2 {
		t.Fatalf("primary was called %d times, want 2", primary.CallCount())
	}
}

func TestEngineFallbackAllFailed(t *testing.T) {
	t.Parallel()

	f := NewEngineFallback(&mock.Engine{Err: errors.New("down")}, "primary", BreakerConfig{Cooldown: time.Hour})
	f.AddFallback("secondary", &mock.Engine{Err: errors.New("also down")})

	_, err := f.Transcribe(context.Background(), transcribe.Request{})
	if !errors.Is(err, ErrAllEnginesFailed) {
		t.Fatalf("got %v, want ErrAllEnginesFailed", err)
	}
}

func TestEngineFallbackHonoursCancellation(t *testing.T) {
	t.Parallel()

	primary := &mock.Engine{Results: []string{"never"}}
	f := NewEngineFallback(primary, "primary", BreakerConfig{Cooldown: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Transcribe(ctx, transcribe.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if primary.CallCount() != 0 {
		t.Fatalf("primary was called %d times after cancellation, want 0", primary.CallCount())
	}
}
