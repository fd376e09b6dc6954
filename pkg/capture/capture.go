// Package capture abstracts streaming audio input devices.
//
// The pipeline never talks to audio hardware directly — it consumes a
// [Source] supplied at construction, opens a [Stream] against an externally
// enumerated device, and reads frames at the device's native sample rate and
// channel count. Resampling happens later in the pipeline, keeping capture
// fidelity independent of backend requirements.
//
// Implementations deliver frames over a bounded channel and must never
// perform blocking work on the delivery path: when the consumer falls behind
// and the channel is full, a frame is dropped rather than stalling the
// device callback.
package capture

import (
	"context"

	"github.com/loopscribe/loopscribe/pkg/audio"
)

// Stream is an open capture session against a single device.
//
// Frames and Errs are closed when the stream terminates. A device read
// failure mid-stream is fatal to the session: it is reported once on Errs
// and the stream stops — a dead device typically stays dead, so retries
// belong to whoever owns device selection, not here.
type Stream interface {
	// Frames returns the channel delivering captured frames in order.
	// Closed when the stream ends, whether by Close or by a device error.
	Frames() <-chan audio.Frame

	// Errs returns a channel carrying at most one fatal device error.
	// Closed without a value on clean shutdown.
	Errs() <-chan error

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Source opens capture streams against enumerated devices.
//
// Implementations must be safe for concurrent use; each Open returns an
// independent stream.
type Source interface {
	// Open starts capturing from the described device at its native format.
	// ctx governs the open attempt only; the returned stream lives until
	// [Stream.Close]. Open fails if the device cannot be acquired.
	Open(ctx context.Context, device audio.DeviceDescriptor) (Stream, error)
}
