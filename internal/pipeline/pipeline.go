// Package pipeline wires capture, buffering, chunking, conversion, and
// transcription into a start/stoppable session and exposes the results as
// pull-based queues.
//
// Two concurrent units run per session: the capture unit moves frames from
// the device stream into the ring buffer, and the processing unit drains the
// buffer on a fixed tick, driving each chunk through the transcription
// worker. They communicate only through the buffer; cancellation is
// cooperative and Stop joins both units with a bounded timeout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopscribe/loopscribe/internal/convert"
	"github.com/loopscribe/loopscribe/internal/observe"
	"github.com/loopscribe/loopscribe/internal/worker"
	"github.com/loopscribe/loopscribe/pkg/audio"
	"github.com/loopscribe/loopscribe/pkg/capture"
	"github.com/loopscribe/loopscribe/pkg/capture/ring"
	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// ErrAlreadyRunning is returned by Start when a session is active.
var ErrAlreadyRunning = errors.New("pipeline: already running")

const (
	defaultMaxBuffer     = 30 * time.Second
	defaultChunkDuration = 10 * time.Second
	defaultMinFrames     = 5
	defaultQueueSize     = 256
	defaultJoinTimeout   = 5 * time.Second
)

// Controller owns the pipeline lifecycle. Construct with New, then drive it
// with Start/Stop and poll NextFragment/NextStatus from the presentation
// layer at its own cadence.
//
// All methods are safe for concurrent use.
type Controller struct {
	source     capture.Source
	engine     transcribe.Engine
	converter  *convert.Converter
	history    *worker.History
	metrics    *observe.Metrics
	logger     *slog.Logger
	engineName string
	workerOpts []worker.Option

	maxBuffer     time.Duration
	chunkDuration time.Duration
	minFrames     int
	queueSize     int
	joinTimeout   time.Duration

	mu         sync.Mutex
	running    bool
	sessionCtx context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	stream     capture.Stream
	buf        *ring.Buffer
	fragments  chan worker.Fragment
	statuses   chan string
	runErr     error
}

// Option is a functional option for New.
type Option func(*Controller)

// WithMaxBuffer caps the ring buffer's audio duration. Defaults to 30s.
func WithMaxBuffer(d time.Duration) Option {
	return func(c *Controller) { c.maxBuffer = d }
}

// WithChunkDuration sets the tick period between chunk emissions.
// Defaults to 10s.
func WithChunkDuration(d time.Duration) Option {
	return func(c *Controller) { c.chunkDuration = d }
}

// WithMinFrames sets the minimum buffered frame count below which a tick is
// skipped. Defaults to 5.
func WithMinFrames(n int) Option {
	return func(c *Controller) { c.minFrames = n }
}

// WithQueueSize sets the capacity of the fragment and status queues.
// Defaults to 256.
func WithQueueSize(n int) Option {
	return func(c *Controller) { c.queueSize = n }
}

// WithJoinTimeout bounds how long Stop waits for the two units to exit.
// Defaults to 5s.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Controller) { c.joinTimeout = d }
}

// WithHistorySize sets the context history capacity. Defaults to 5.
func WithHistorySize(n int) Option {
	return func(c *Controller) { c.history = worker.NewHistory(n) }
}

// WithEngineName labels the engine in metrics and logs.
func WithEngineName(name string) Option {
	return func(c *Controller) { c.engineName = name }
}

// WithWorkerOptions forwards options (language, spool dir) to the worker the
// controller builds for each session.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(c *Controller) { c.workerOpts = append(c.workerOpts, opts...) }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New constructs a Controller. source, engine, and converter must be
// non-nil.
func New(source capture.Source, engine transcribe.Engine, converter *convert.Converter, opts ...Option) *Controller {
	c := &Controller{
		source:        source,
		engine:        engine,
		converter:     converter,
		maxBuffer:     defaultMaxBuffer,
		chunkDuration: defaultChunkDuration,
		minFrames:     defaultMinFrames,
		queueSize:     defaultQueueSize,
		joinTimeout:   defaultJoinTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.history == nil {
		c.history = worker.NewHistory(0)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start opens the device and launches the capture and processing units. It
// fails with [ErrAlreadyRunning] when a session is active. All per-session
// state (buffer, history, counters, queues) is reset first, so a restarted
// pipeline never sees stale data. ctx governs the open attempt and the
// session; the session also ends on Stop.
func (c *Controller) Start(ctx context.Context, device audio.DeviceDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}

	stream, err := c.source.Open(ctx, device)
	if err != nil {
		return fmt.Errorf("pipeline: open device %q: %w", device.Name, err)
	}

	c.buf = ring.New(c.maxBuffer)
	c.history.Reset()
	c.fragments = make(chan worker.Fragment, c.queueSize)
	c.statuses = make(chan string, c.queueSize)
	c.stream = stream
	c.runErr = nil
	c.done = make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	c.sessionCtx = runCtx
	c.cancel = cancel

	wk := worker.NewWorker(c.engine, c.converter, c.history,
		append([]worker.Option{
			worker.WithLogger(c.logger),
			worker.WithStatusFunc(c.pushStatus),
			worker.WithDegradedFunc(func() {
				c.metrics.ConversionDegraded.Add(context.Background(), 1)
			}),
		}, c.workerOpts...)...)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.captureUnit(gctx, stream) })
	g.Go(func() error { return c.processingUnit(gctx, wk) })

	done := c.done
	go func() {
		err := g.Wait()
		c.mu.Lock()
		c.runErr = err
		// A fatal unit error stops the session on its own; release the
		// device here so a later Stop stays a clean no-op.
		selfStop := err != nil && c.running
		if selfStop {
			c.running = false
		}
		c.mu.Unlock()

		if selfStop {
			if cerr := stream.Close(); cerr != nil {
				c.logger.Warn("closing capture stream", "error", cerr)
			}
			c.metrics.ActiveSessions.Add(context.Background(), -1)
			c.logger.Error("pipeline stopped on fatal error", "error", err)
			c.pushStatus(fmt.Sprintf("pipeline stopped: %v", err))
		}
		// Release the session context so it does not stay registered on the
		// caller's context until the next Start.
		cancel()
		close(done)
	}()

	c.running = true
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.logger.Info("pipeline started",
		"device", device.Name,
		"format", device.Format().String(),
		"chunk_duration", c.chunkDuration,
		"max_buffer", c.maxBuffer)
	return nil
}

// Stop signals both units, waits for them with the bounded join timeout, and
// releases the device. The processing unit performs one final forced drain
// on the way out, so trailing audio still reaches the engine. Calling Stop
// when not running is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, stream, done := c.cancel, c.stream, c.done
	c.mu.Unlock()

	cancel()
	if err := stream.Close(); err != nil {
		c.logger.Warn("closing capture stream", "error", err)
	}

	select {
	case <-done:
	case <-time.After(c.joinTimeout):
		c.logger.Warn("pipeline units did not exit within join timeout", "timeout", c.joinTimeout)
	}

	c.metrics.ActiveSessions.Add(context.Background(), -1)
	c.logger.Info("pipeline stopped")
	return nil
}

// Buffered returns the audio duration currently waiting in the ring buffer.
// Returns zero when no session has started.
func (c *Controller) Buffered() time.Duration {
	c.mu.Lock()
	buf := c.buf
	c.mu.Unlock()
	if buf == nil {
		return 0
	}
	return buf.BufferedDuration()
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Err returns the fatal error that ended the last session, if any. A clean
// Stop leaves it nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
		return c.runErr
	}
	return nil
}

// NextFragment pops the oldest transcript fragment without blocking. ok is
// false when the queue is empty.
func (c *Controller) NextFragment() (frag worker.Fragment, ok bool) {
	c.mu.Lock()
	ch := c.fragments
	c.mu.Unlock()
	if ch == nil {
		return worker.Fragment{}, false
	}
	select {
	case frag = <-ch:
		return frag, true
	default:
		return worker.Fragment{}, false
	}
}

// NextStatus pops the oldest status event without blocking. ok is false when
// the queue is empty.
func (c *Controller) NextStatus() (status string, ok bool) {
	c.mu.Lock()
	ch := c.statuses
	c.mu.Unlock()
	if ch == nil {
		return "", false
	}
	select {
	case status = <-ch:
		return status, true
	default:
		return "", false
	}
}

// captureUnit moves frames from the stream into the ring buffer until the
// session ends or the device fails. It performs no conversion or I/O on the
// delivery path; a full buffer evicts oldest audio inside Push.
func (c *Controller) captureUnit(ctx context.Context, stream capture.Stream) error {
	frames, errs := stream.Frames(), stream.Errs()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok && err != nil {
				return fmt.Errorf("pipeline: capture device: %w", err)
			}
			errs = nil
			if frames == nil {
				return nil
			}
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				if errs == nil {
					return nil
				}
				continue
			}
			c.buf.Push(frame)
		}
	}
}

// processingUnit drains the buffer on each tick and runs chunks through the
// worker. On shutdown it performs one final forced drain regardless of the
// minimum-frame threshold, so trailing audio is flushed.
func (c *Controller) processingUnit(ctx context.Context, wk *worker.Worker) error {
	ticker := time.NewTicker(c.chunkDuration)
	defer ticker.Stop()

	var seq, lastEvicted uint64
	for {
		select {
		case <-ctx.Done():
			c.finalDrain(wk, &seq)
			return nil
		case <-ticker.C:
			c.emitTick(ctx, wk, &seq)
			if _, evicted := c.buf.Stats(); evicted > lastEvicted {
				c.metrics.FramesEvicted.Add(ctx, int64(evicted-lastEvicted))
				lastEvicted = evicted
			}
		}
	}
}

// emitTick runs one scheduled emission: skip when starved, otherwise drain
// the freshest window and process it.
func (c *Controller) emitTick(ctx context.Context, wk *worker.Worker, seq *uint64) {
	c.metrics.BufferedAudio.Record(ctx, c.buf.BufferedDuration().Seconds())

	if c.buf.Len() < c.minFrames {
		// Starvation is not an error; there is simply nothing worth
		// transcribing yet.
		c.metrics.TicksSkipped.Add(ctx, 1)
		c.logger.Debug("skipping tick, insufficient buffered audio", "frames", c.buf.Len())
		return
	}

	frames := c.buf.DrainWindow(c.maxBuffer)
	if len(frames) == 0 {
		c.metrics.TicksSkipped.Add(ctx, 1)
		return
	}
	c.processChunk(ctx, wk, chunkFromFrames(nextSeq(seq), frames))
}

// finalDrain flushes whatever audio remains when the session ends. The
// minimum-frame check is bypassed and the transcription call runs on a
// detached context bounded by the join timeout, so Stop can still complete.
func (c *Controller) finalDrain(wk *worker.Worker, seq *uint64) {
	frames := c.buf.DrainWindow(c.maxBuffer)
	if len(frames) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), c.joinTimeout)
	defer cancel()
	c.processChunk(ctx, wk, chunkFromFrames(nextSeq(seq), frames))
}

// processChunk drives one chunk through the worker and routes the outcome to
// the queues and instruments.
func (c *Controller) processChunk(ctx context.Context, wk *worker.Worker, chunk worker.Chunk) {
	c.metrics.ChunksEmitted.Add(ctx, 1)
	start := time.Now()

	frag, err := wk.Process(ctx, chunk)
	if err != nil {
		c.metrics.ChunksDropped.Add(ctx, 1)
		c.metrics.RecordEngineError(ctx, c.engineName)
		c.metrics.RecordTranscription(ctx, time.Since(start), "failed")
		return
	}
	c.metrics.RecordTranscription(ctx, time.Since(start), "completed")
	if frag == nil {
		return
	}

	c.mu.Lock()
	ch := c.fragments
	c.mu.Unlock()
	pushDroppingOldest(ch, *frag)
}

// pushStatus enqueues a status event, dropping the oldest when the consumer
// has fallen behind. The presentation layer polls at its own cadence and
// must never block the processing unit.
func (c *Controller) pushStatus(s string) {
	c.mu.Lock()
	ch := c.statuses
	c.mu.Unlock()
	if ch == nil {
		return
	}
	pushDroppingOldest(ch, s)
}

// pushDroppingOldest delivers v, evicting the oldest queued element when the
// channel is full. Newest data wins, matching the buffer's eviction policy.
func pushDroppingOldest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// nextSeq increments and returns the chunk sequence number.
func nextSeq(seq *uint64) uint64 {
	*seq++
	return *seq
}

// chunkFromFrames materializes drained frames into one self-contained chunk.
// The frames' PCM is concatenated in order; format and timestamp come from
// the first frame.
func chunkFromFrames(seq uint64, frames []audio.Frame) worker.Chunk {
	var total int
	for _, f := range frames {
		total += len(f.Data)
	}
	pcm := make([]byte, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	first := frames[0]
	return worker.Chunk{
		Seq:       seq,
		PCM:       pcm,
		Format:    audio.Format{SampleRate: first.SampleRate, Channels: first.Channels},
		Timestamp: first.Timestamp,
	}
}
