package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/loopscribe/loopscribe/internal/convert"
	"github.com/loopscribe/loopscribe/internal/observe"
	"github.com/loopscribe/loopscribe/internal/worker"
	"github.com/loopscribe/loopscribe/pkg/audio"
	"github.com/loopscribe/loopscribe/pkg/capture"
	"github.com/loopscribe/loopscribe/pkg/transcribe"
	"github.com/loopscribe/loopscribe/pkg/transcribe/mock"
)

// device16k is the synthetic loopback device used by most tests.
var device16k = audio.DeviceDescriptor{
	Index:            0,
	Name:             "synthetic loopback",
	NativeSampleRate: 16000,
	Channels:         1,
}

// newTestController builds a controller with a pure-Go converter and its own
// metrics instance so tests stay independent of global state.
func newTestController(t *testing.T, src capture.Source, eng transcribe.Engine, opts ...Option) *Controller {
	t.Helper()

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	conv := convert.New(
		convert.WithFFmpegPath(""),
		convert.WithTempDir(t.TempDir()),
		convert.WithNormalization(false),
	)

	base := []Option{
		WithMetrics(m),
		WithJoinTimeout(2 * time.Second),
	}
	return New(src, eng, conv, append(base, opts...)...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// drainStatuses empties the status queue and returns everything it held.
func drainStatuses(c *Controller) []string {
	var out []string
	for {
		s, ok := c.NextStatus()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

func TestEndToEndStopFlush(t *testing.T) {
	t.Parallel()

	// 9 seconds of silence followed by a 2-second tone, delivered as fast
	// as the pipeline consumes them. The chunk timer never fires; the one
	// chunk comes from Stop's forced flush.
	src := &capture.SyntheticSource{
		Script: []capture.Segment{
			{Duration: 9 * time.Second},
			{Duration: 2 * time.Second, Amplitude: 0.5, Frequency: 440},
		},
		CloseAfterScript: true,
	}
	eng := &mock.Engine{Results: []string{"test"}}
	c := newTestController(t, src, eng, WithChunkDuration(time.Hour))

	if err := c.Start(context.Background(), device16k); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return c.Buffered() >= 10900*time.Millisecond
	}, "buffer never filled with the scripted audio")

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	frag, ok := c.NextFragment()
	if !ok {
		t.Fatal("no fragment on the output queue after forced flush")
	}
	if frag.Text != "test" {
		t.Fatalf("fragment text = %q, want %q", frag.Text, "test")
	}
	if frag.Latency <= 0 {
		t.Fatal("fragment latency not recorded")
	}
	if _, ok := c.NextFragment(); ok {
		t.Fatal("more than one fragment for a single chunk")
	}

	// The single chunk must contain the whole scripted stream.
	if got := eng.CallCount(); got != 1 {
		t.Fatalf("engine called %d times, want 1", got)
	}
	dur, err := audio.WAVDuration(eng.Calls[0].Req.Audio)
	if err != nil {
		t.Fatalf("chunk is not valid WAV: %v", err)
	}
	if dur < 10500*time.Millisecond || dur > 11500*time.Millisecond {
		t.Fatalf("chunk duration = %v, want ~11s", dur)
	}

	statuses := drainStatuses(c)
	if len(statuses) == 0 {
		t.Fatal("no status events emitted")
	}
}

func TestPeriodicTicksEmitFragments(t *testing.T) {
	t.Parallel()

	src := &capture.SyntheticSource{
		Script:           []capture.Segment{{Duration: 60 * time.Second, Amplitude: 0.4, Frequency: 300}},
		CloseAfterScript: true,
	}
	eng := &mock.Engine{Results: []string{"periodic result."}}
	c := newTestController(t, src, eng,
		WithChunkDuration(30*time.Millisecond),
		WithMinFrames(1),
	)

	if err := c.Start(context.Background(), device16k); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	var frag worker.Fragment
	waitFor(t, 2*time.Second, func() bool {
		f, ok := c.NextFragment()
		if ok {
			frag = f
		}
		return ok
	}, "no fragment produced by periodic ticks")

	if frag.Text != "periodic result." {
		t.Fatalf("fragment text = %q", frag.Text)
	}
}

func TestStartWhileRunning(t *testing.T) {
	t.Parallel()

	src := &capture.SyntheticSource{
		Script:           []capture.Segment{{Duration: time.Second}},
		CloseAfterScript: true,
	}
	c := newTestController(t, src, &mock.Engine{}, WithChunkDuration(time.Hour))

	if err := c.Start(context.Background(), device16k); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(context.Background(), device16k); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	src := &capture.SyntheticSource{
		Script:           []capture.Segment{{Duration: time.Second}},
		CloseAfterScript: true,
	}
	c := newTestController(t, src, &mock.Engine{}, WithChunkDuration(time.Hour))

	// Stop before any Start is a no-op.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}

	if err := c.Start(context.Background(), device16k); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if c.Running() {
		t.Fatal("Running() = true after Stop")
	}
}

func TestDeviceFailureStopsPipeline(t *testing.T) {
	t.Parallel()

	deviceErr := errors.New("device unplugged")
	src := &capture.SyntheticSource{
		Script:          []capture.Segment{{Duration: 500 * time.Millisecond}},
		FailAfterScript: deviceErr,
	}
	c := newTestController(t, src, &mock.Engine{}, WithChunkDuration(time.Hour))

	if err := c.Start(context.Background(), device16k); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.Err() != nil
	}, "device error never surfaced")
	if !errors.Is(c.Err(), deviceErr) {
		t.Fatalf("Err() = %v, want wrapped device error", c.Err())
	}
	if c.Running() {
		t.Fatal("pipeline still reports running after fatal device error")
	}

	// Stop after a self-stop stays a no-op.
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop after failure: %v", err)
	}

	var found bool
	for _, s := range drainStatuses(c) {
		if strings.Contains(s, "pipeline stopped") {
			found = true
		}
	}
	if !found {
		t.Fatal("no status event surfaced the device failure")
	}
}

func TestDeviceFailureReleasesSessionContext(t *testing.T) {
	t.Parallel()

	src := &capture.SyntheticSource{
		Script:          []capture.Segment{{Duration: 200 * time.Millisecond}},
		FailAfterScript: errors.New("device gone"),
	}
	c := newTestController(t, src, &mock.Engine{}, WithChunkDuration(time.Hour))

	if err := c.Start(context.Background(), device16k); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.mu.Lock()
	sctx := c.sessionCtx
	c.mu.Unlock()

	// The self-stop must cancel the session context, not just the errgroup's
	// derived context, or it stays registered on the caller's context.
	waitFor(t, 2*time.Second, func() bool {
		select {
		case <-sctx.Done():
			return true
		default:
			return false
		}
	}, "session context not cancelled after fatal device error")
}

func TestDegradedConversionForwardsChunk(t *testing.T) {
	t.Parallel()

	device := audio.DeviceDescriptor{
		Index:            3,
		Name:             "hdmi loopback",
		NativeSampleRate: 44100,
		Channels:         2,
	}
	src := &capture.SyntheticSource{
		Script:           []capture.Segment{{Duration: 2 * time.Second, Amplitude: 0.4, Frequency: 500}},
		CloseAfterScript: true,
	}
	eng := &mock.Engine{Results: []string{"degraded path."}}
	c := newTestController(t, src, eng, WithChunkDuration(time.Hour))

	if err := c.Start(context.Background(), device); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return c.Buffered() >= 1900*time.Millisecond
	}, "buffer never filled")
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	frag, ok := c.NextFragment()
	if !ok {
		t.Fatal("degraded conversion dropped the chunk")
	}
	if frag.Text != "degraded path." {
		t.Fatalf("fragment text = %q", frag.Text)
	}

	// Without ffmpeg the pure-Go path still reaches the target format.
	want := audio.Format{SampleRate: 16000, Channels: 1}
	if got := eng.Calls[0].Req.Format; got != want {
		t.Fatalf("engine received format %v, want %v", got, want)
	}

	var degraded bool
	for _, s := range drainStatuses(c) {
		if strings.Contains(s, "degraded") {
			degraded = true
		}
	}
	if !degraded {
		t.Fatal("no status event reported the degradation")
	}
}

func TestRestartResetsSessionState(t *testing.T) {
	t.Parallel()

	src := &capture.SyntheticSource{
		Script:           []capture.Segment{{Duration: 2 * time.Second, Amplitude: 0.5, Frequency: 440}},
		CloseAfterScript: true,
	}
	eng := &mock.Engine{Results: []string{"session one.", "session two."}}
	c := newTestController(t, src, eng, WithChunkDuration(time.Hour))

	for i, want := range []string{"session one.", "session two."} {
		if err := c.Start(context.Background(), device16k); err != nil {
			t.Fatalf("Start session %d: %v", i+1, err)
		}
		waitFor(t, 5*time.Second, func() bool {
			return c.Buffered() >= 1900*time.Millisecond
		}, "buffer never filled")
		if err := c.Stop(); err != nil {
			t.Fatalf("Stop session %d: %v", i+1, err)
		}

		frag, ok := c.NextFragment()
		if !ok {
			t.Fatalf("session %d produced no fragment", i+1)
		}
		if frag.Text != want {
			t.Fatalf("session %d fragment = %q, want %q", i+1, frag.Text, want)
		}
		if _, ok := c.NextFragment(); ok {
			t.Fatalf("session %d left extra fragments queued", i+1)
		}
	}
}
