package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/loopscribe/loopscribe/pkg/audio"
)

// Segment describes one stretch of synthetic audio. Amplitude 0 produces
// silence; a non-zero amplitude produces a sine tone at Frequency.
type Segment struct {
	Duration  time.Duration
	Amplitude float64 // 0.0–1.0 of full scale
	Frequency float64 // Hz, ignored for silence
}

// SyntheticSource is a capture source that generates scripted audio instead
// of reading a device. It exists for tests and for dry-running the pipeline
// without hardware, and honours the same contract as a real source: frames at
// the device's native format, bounded delivery, fatal errors surfaced once.
type SyntheticSource struct {
	// Script is the sequence of segments to emit. When exhausted the stream
	// emits silence until closed, unless FailAfterScript is set.
	Script []Segment

	// FrameSize is the number of per-channel samples per frame.
	// Defaults to 1024.
	FrameSize int

	// Interval is the real-time delay between frames. Zero emits frames as
	// fast as the consumer accepts them, which keeps tests fast.
	Interval time.Duration

	// FailAfterScript, when non-nil, is reported as a fatal device error
	// once the script is exhausted. Used to exercise device-failure paths.
	FailAfterScript error

	// CloseAfterScript ends the stream cleanly once the script is
	// exhausted instead of emitting silence forever. Gives tests a
	// deterministic end of input.
	CloseAfterScript bool
}

var _ Source = (*SyntheticSource)(nil)

// Open starts generating frames at device's native sample rate and channel
// count. A descriptor with a non-positive rate or channel count cannot be
// acquired, matching how a real device adapter fails.
func (s *SyntheticSource) Open(ctx context.Context, device audio.DeviceDescriptor) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if device.NativeSampleRate <= 0 || device.Channels <= 0 {
		return nil, fmt.Errorf("capture: device %q reports unusable format %s", device.Name, device.Format())
	}
	frameSize := s.FrameSize
	if frameSize <= 0 {
		frameSize = 1024
	}

	st := &synthStream{
		frames: make(chan audio.Frame, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go st.run(device, s, frameSize)
	return st, nil
}

type synthStream struct {
	frames chan audio.Frame
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func (st *synthStream) Frames() <-chan audio.Frame { return st.frames }
func (st *synthStream) Errs() <-chan error         { return st.errs }

func (st *synthStream) Close() error {
	st.once.Do(func() { close(st.done) })
	return nil
}

func (st *synthStream) run(device audio.DeviceDescriptor, src *SyntheticSource, frameSize int) {
	defer close(st.frames)
	defer close(st.errs)

	rate := device.NativeSampleRate
	channels := device.Channels
	interval := src.Interval
	var elapsed time.Duration
	var phase float64

	emit := func(seg Segment) bool {
		data := make([]byte, frameSize*channels*audio.BytesPerSample)
		if seg.Amplitude > 0 && seg.Frequency > 0 {
			step := 2 * math.Pi * seg.Frequency / float64(rate)
			for i := range frameSize {
				v := int16(seg.Amplitude * math.MaxInt16 * math.Sin(phase))
				phase += step
				for c := range channels {
					off := (i*channels + c) * audio.BytesPerSample
					data[off] = byte(v)
					data[off+1] = byte(v >> 8)
				}
			}
		}

		frame := audio.Frame{
			Data:       data,
			SampleRate: rate,
			Channels:   channels,
			Timestamp:  elapsed,
		}
		elapsed += frame.Duration()

		if interval > 0 {
			select {
			case <-st.done:
				return false
			case <-time.After(interval):
			}
			// Real-time pacing: drop the frame rather than block when full,
			// like a device callback would.
			select {
			case <-st.done:
				return false
			case st.frames <- frame:
			default:
			}
			return true
		}
		// Unpaced mode runs at consumer speed so scripted tests stay fast
		// and lossless.
		select {
		case <-st.done:
			return false
		case st.frames <- frame:
		}
		return true
	}

	for _, seg := range src.Script {
		for remaining := seg.Duration; remaining > 0; {
			if !emit(seg) {
				return
			}
			remaining -= time.Duration(frameSize) * time.Second / time.Duration(rate)
		}
	}

	if src.FailAfterScript != nil {
		st.errs <- src.FailAfterScript
		return
	}
	if src.CloseAfterScript {
		return
	}

	// Script exhausted: keep emitting silence until closed.
	for emit(Segment{}) {
	}
}
