// Package audio defines the core audio data types shared by every stage of
// the transcription pipeline, along with pure-Go PCM format conversion and a
// minimal RIFF/WAV codec.
//
// All PCM data flowing through the pipeline is 16-bit signed little-endian,
// interleaved when multi-channel. Frames are immutable once produced: a stage
// that needs to modify audio allocates a new buffer and never writes into a
// frame it received.
//
// This package lives under pkg/ because capture-device adapters and
// transcription engines provided by external code are expected to consume
// these types.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the size of a single 16-bit PCM sample.
const BytesPerSample = 2

// Frame represents one capture callback's worth of raw PCM audio.
// It is the atomic unit handed from the capture source to the accumulator.
type Frame struct {
	// Data is raw interleaved 16-bit little-endian PCM.
	Data []byte

	// SampleRate in Hz at which Data was captured (the device's native rate,
	// never resampled at capture time).
	SampleRate int

	// Channels is the interleaved channel count (1 = mono, 2 = stereo).
	Channels int

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of per-channel sample points in the frame.
// A 20 ms stereo frame at 48 kHz has 960 samples, not 1920.
func (f Frame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / BytesPerSample / f.Channels
}

// Duration returns the play time of the frame at its native rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable rendering, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// DeviceDescriptor identifies an audio input device as reported by the
// external enumeration service. The pipeline treats it as read-only metadata:
// it opens a stream against the described device but never resamples at
// capture time, so NativeSampleRate and Channels define the format of every
// Frame the device produces.
type DeviceDescriptor struct {
	// Index is the platform-specific device index.
	Index int

	// Name is the human-readable device name. Loopback devices capture the
	// system's own output rather than a microphone.
	Name string

	// NativeSampleRate is the device's default sample rate in Hz.
	NativeSampleRate int

	// Channels is the device's input channel count.
	Channels int
}

// Format returns the PCM format frames from this device carry.
func (d DeviceDescriptor) Format() Format {
	return Format{SampleRate: d.NativeSampleRate, Channels: d.Channels}
}
