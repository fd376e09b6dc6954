package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// ErrAllEnginesFailed is returned when every engine in an [EngineFallback]
// fails or has an open breaker.
var ErrAllEnginesFailed = errors.New("all transcription engines failed")

// engineEntry pairs an engine with its dedicated breaker.
type engineEntry struct {
	name    string
	engine  transcribe.Engine
	breaker *Breaker
}

// EngineFallback implements [transcribe.Engine] with automatic failover
// across multiple backends. Engines are tried in registration order; an
// engine whose breaker is open is skipped without being called. The fallback
// never retries a single engine for the same chunk — a chunk gets at most one
// attempt per healthy engine.
//
// EngineFallback is safe for concurrent use once configured; AddFallback must
// not be called after Transcribe.
type EngineFallback struct {
	entries []engineEntry
	cfg     BreakerConfig
}

// Compile-time interface assertion.
var _ transcribe.Engine = (*EngineFallback)(nil)

// NewEngineFallback creates an [EngineFallback] with primary as the preferred
// backend. cfg configures the per-engine breakers.
func NewEngineFallback(primary transcribe.Engine, primaryName string, cfg BreakerConfig) *EngineFallback {
	f := &EngineFallback{cfg: cfg}
	f.add(primaryName, primary)
	return f
}

// AddFallback registers an additional engine, tried after all earlier ones.
func (f *EngineFallback) AddFallback(name string, engine transcribe.Engine) {
	f.add(name, engine)
}

func (f *EngineFallback) add(name string, engine transcribe.Engine) {
	cfg := f.cfg
	cfg.Name = name
	f.entries = append(f.entries, engineEntry{
		name:    name,
		engine:  engine,
		breaker: NewBreaker(cfg),
	})
}

// Transcribe submits the chunk to the first healthy engine. A cancelled
// context stops the cascade immediately; the caller's cancellation should not
// count against the remaining engines' breakers.
func (f *EngineFallback) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	var lastErr error
	for i := range f.entries {
		if err := ctx.Err(); err != nil {
			return transcribe.Result{}, err
		}
		entry := &f.entries[i]

		var result transcribe.Result
		err := entry.breaker.Run(func() error {
			var innerErr error
			result, innerErr = entry.engine.Transcribe(ctx, req)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping engine (circuit open)", "engine", entry.name)
		} else {
			slog.Warn("engine failed, trying next", "engine", entry.name, "error", err)
		}
	}
	return transcribe.Result{}, fmt.Errorf("%w: %v", ErrAllEnginesFailed, lastErr)
}
