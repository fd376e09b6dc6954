// Package worker implements the transcription worker: the per-chunk state
// machine that converts a drained chunk, submits it to the speech-to-text
// engine with a priming prompt from recent history, filters noise, and
// produces timestamped transcript fragments.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/loopscribe/loopscribe/internal/convert"
	"github.com/loopscribe/loopscribe/pkg/audio"
	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// ChunkState tracks a chunk through its lifecycle. Every chunk ends in
// StateCompleted or StateFailed exactly once.
type ChunkState int

const (
	StateReceived ChunkState = iota
	StateConverted
	StateSubmitted
	StateCompleted
	StateFailed
)

// String returns the lifecycle stage name.
func (s ChunkState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateConverted:
		return "converted"
	case StateSubmitted:
		return "submitted"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk is one materialized span of audio handed to the worker. Ownership
// transfers completely: the worker may not be given a chunk whose PCM slice
// is still mutated elsewhere.
type Chunk struct {
	// Seq is the chunk's position in production order, starting at 1.
	Seq uint64

	// PCM holds raw interleaved 16-bit samples at Format.
	PCM []byte

	// Format is the capture-native PCM format of the samples.
	Format audio.Format

	// Timestamp is the stream position of the chunk's first sample.
	Timestamp time.Duration
}

// Duration returns the chunk's audio length.
func (c Chunk) Duration() time.Duration {
	if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / (c.Format.Channels * audio.BytesPerSample)
	return time.Duration(samples) * time.Second / time.Duration(c.Format.SampleRate)
}

// Fragment is one accepted transcription result.
type Fragment struct {
	// Text is the transcribed text, never empty.
	Text string

	// Timestamp is the stream position of the underlying chunk.
	Timestamp time.Duration

	// Latency is the wall-clock time from chunk receipt to engine response.
	Latency time.Duration
}

// Worker drives chunks through the transcription state machine. It holds no
// queues of its own; the pipeline calls Process once per chunk from a single
// goroutine.
type Worker struct {
	engine     transcribe.Engine
	converter  *convert.Converter
	history    *History
	language   string
	spoolDir   string
	onStatus   func(string)
	onDegraded func()
	logger     *slog.Logger
}

// Option is a functional option for NewWorker.
type Option func(*Worker)

// WithLanguage sets the ISO-639-1 language hint passed to the engine.
func WithLanguage(code string) Option {
	return func(w *Worker) { w.language = code }
}

// WithSpoolDir makes the worker persist each converted chunk as a WAV file
// in dir while it is in flight. The file is removed on every terminal path;
// it exists for post-mortem inspection of the exact audio a backend saw.
func WithSpoolDir(dir string) Option {
	return func(w *Worker) { w.spoolDir = dir }
}

// WithStatusFunc registers a callback for human-readable progress events.
// The callback must not block.
func WithStatusFunc(fn func(string)) Option {
	return func(w *Worker) { w.onStatus = fn }
}

// WithDegradedFunc registers a callback fired once per chunk whose
// conversion was degraded. Used to feed instruments without coupling the
// worker to the metrics package.
func WithDegradedFunc(fn func()) Option {
	return func(w *Worker) { w.onDegraded = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker constructs a Worker. engine, converter, and history must be
// non-nil.
func NewWorker(engine transcribe.Engine, converter *convert.Converter, history *History, opts ...Option) *Worker {
	w := &Worker{
		engine:    engine,
		converter: converter,
		history:   history,
		onStatus:  func(string) {},
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Process runs one chunk to a terminal state. It returns a Fragment when the
// engine produced text that survives the noise filter, nil when the chunk
// completed without usable text, and an error when transcription failed. A
// failed chunk is dropped by the caller, never resubmitted: by the time a
// retry could finish, fresher audio has superseded it.
func (w *Worker) Process(ctx context.Context, chunk Chunk) (*Fragment, error) {
	start := time.Now()
	state := StateReceived
	advance := func(next ChunkState) {
		state = next
		w.logger.Debug("chunk state transition", "chunk", chunk.Seq, "state", state.String())
	}
	w.onStatus(fmt.Sprintf("processing chunk %d (%.1fs of audio)", chunk.Seq, chunk.Duration().Seconds()))

	res := w.converter.Convert(ctx, chunk.PCM, chunk.Format)
	advance(StateConverted)
	if res.Degraded {
		w.logger.Warn("chunk conversion degraded",
			"chunk", chunk.Seq, "warnings", strings.Join(res.Warnings, "; "))
		w.onStatus(fmt.Sprintf("chunk %d: conversion degraded (%s)", chunk.Seq, strings.Join(res.Warnings, "; ")))
		if w.onDegraded != nil {
			w.onDegraded()
		}
	}

	spoolPath, err := w.spool(chunk.Seq, res.Audio)
	if err != nil {
		w.logger.Warn("failed to spool chunk, continuing in-memory", "chunk", chunk.Seq, "error", err)
	}
	if spoolPath != "" {
		defer func() {
			if err := os.Remove(spoolPath); err != nil {
				w.logger.Warn("failed to remove spooled chunk", "path", spoolPath, "error", err)
			}
		}()
	}

	advance(StateSubmitted)
	result, err := w.engine.Transcribe(ctx, transcribe.Request{
		Audio:    res.Audio,
		Format:   res.Format,
		Language: w.language,
		Prompt:   w.history.MostRecent(),
	})
	if err != nil {
		advance(StateFailed)
		w.logger.Error("transcription failed, dropping chunk",
			"chunk", chunk.Seq, "state", state.String(), "error", err)
		w.onStatus(fmt.Sprintf("chunk %d failed: %v", chunk.Seq, err))
		return nil, fmt.Errorf("worker: chunk %d: %w", chunk.Seq, err)
	}
	advance(StateCompleted)
	latency := time.Since(start)

	text := strings.TrimSpace(result.Text)
	if isNoise(text) {
		w.logger.Debug("discarding noise result",
			"chunk", chunk.Seq, "state", state, "text", text)
		w.onStatus(fmt.Sprintf("chunk %d processed in %.1fs (no speech)", chunk.Seq, latency.Seconds()))
		return nil, nil
	}

	w.history.Add(text)
	w.onStatus(fmt.Sprintf("chunk %d processed in %.1fs", chunk.Seq, latency.Seconds()))
	return &Fragment{Text: text, Timestamp: chunk.Timestamp, Latency: latency}, nil
}

// spool writes the converted clip to the spool dir, if one is configured.
func (w *Worker) spool(seq uint64, wav []byte) (string, error) {
	if w.spoolDir == "" {
		return "", nil
	}
	path := filepath.Join(w.spoolDir, fmt.Sprintf("chunk-%06d.wav", seq))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("worker: spool chunk %d: %w", seq, err)
	}
	return path, nil
}

// isNoise reports whether a transcription result should be discarded: empty
// text, or fewer than 3 characters with no punctuation. Hallucinated
// two-letter artifacts on silence are the usual culprit; "ok." survives
// because the punctuation marks a deliberate utterance.
func isNoise(text string) bool {
	if text == "" {
		return true
	}
	if utf8.RuneCountInString(text) >= 3 {
		return false
	}
	return !strings.ContainsAny(text, ".!?,;")
}
