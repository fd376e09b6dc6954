//go:build !whispercpp

// Package native provides an in-process transcription engine backed by the
// whisper.cpp CGO bindings. This stub is compiled when the `whispercpp` build
// tag is absent so the project links without CGO; the constructor reports
// that the engine is unavailable.
package native

import (
	"context"
	"errors"

	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// ErrUnavailable is returned by New when the binary was built without the
// `whispercpp` tag.
var ErrUnavailable = errors.New("native: whisper.cpp support not compiled in (build with -tags whispercpp)")

// Engine is a placeholder so callers can name the type regardless of tags.
type Engine struct{}

var _ transcribe.Engine = (*Engine)(nil)

// New always fails in this build configuration.
func New(modelPath, language string) (*Engine, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }

// Transcribe always fails in this build configuration.
func (e *Engine) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	return transcribe.Result{}, ErrUnavailable
}
