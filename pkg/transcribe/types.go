// Package transcribe defines the Engine interface for speech-to-text
// backends.
//
// An engine wraps a remote or local transcription service behind a single
// batch call: audio clip in, text out. The pipeline treats engines as opaque —
// it does not know or care about wire protocols, only that a call may fail or
// time out. Engines never retry on the pipeline's behalf; a caller wanting
// retries must wrap the engine externally.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"

	"github.com/loopscribe/loopscribe/pkg/audio"
)

// Request carries one audio clip and its recognition hints.
type Request struct {
	// Audio is a self-contained WAV clip (header + 16-bit PCM samples).
	Audio []byte

	// Format is the PCM format inside the clip. Backends that require a
	// specific rate may reject mismatching clips; the pipeline forwards
	// unconverted audio when conversion is degraded rather than dropping it.
	Format audio.Format

	// Language is the ISO-639-1 language code (e.g. "en"). Empty lets the
	// backend auto-detect where supported.
	Language string

	// Prompt is an optional priming string — recent transcript text that
	// biases the model's continuation and reduces chunk-boundary artifacts.
	Prompt string
}

// Result is a successful transcription. Empty text is a valid result: it
// means the backend heard nothing worth transcribing.
type Result struct {
	Text string
}

// Engine is the abstraction over any speech-to-text backend.
type Engine interface {
	// Transcribe submits one clip and blocks until the backend responds or
	// ctx is cancelled. Implementations should bound the call with their own
	// timeout so a hung backend cannot stall the caller indefinitely.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
