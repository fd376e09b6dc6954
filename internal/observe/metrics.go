// Package observe provides observability primitives for the transcription
// pipeline: OpenTelemetry metric instruments and a Prometheus exporter
// bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// wires a Prometheus exporter so they can be scraped from the standard
// /metrics endpoint. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all pipeline metrics.
const meterName = "github.com/loopscribe/loopscribe"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks per-chunk latency from receipt to engine
	// response. Use with attribute.String("status", "completed"|"failed").
	TranscriptionDuration metric.Float64Histogram

	// ChunksEmitted counts chunks handed from the emitter to the worker.
	ChunksEmitted metric.Int64Counter

	// ChunksDropped counts chunks that reached a failed terminal state.
	ChunksDropped metric.Int64Counter

	// TicksSkipped counts emitter ticks skipped for insufficient audio.
	TicksSkipped metric.Int64Counter

	// FramesEvicted counts frames evicted from the ring buffer to honour
	// the capacity bound.
	FramesEvicted metric.Int64Counter

	// ConversionDegraded counts chunks whose format conversion fell back or
	// was skipped.
	ConversionDegraded metric.Int64Counter

	// EngineErrors counts transcription backend failures. Use with
	// attribute.String("engine", ...).
	EngineErrors metric.Int64Counter

	// BufferedAudio tracks the ring buffer fill level in seconds, observed
	// at each emitter tick.
	BufferedAudio metric.Float64Gauge

	// ActiveSessions tracks running pipeline sessions (0 or 1 per process
	// today, but the instrument does not assume that).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-to-text round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("loopscribe.transcription.duration",
		metric.WithDescription("Per-chunk latency from receipt to engine response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunksEmitted, err = m.Int64Counter("loopscribe.chunks.emitted",
		metric.WithDescription("Total chunks emitted to the transcription worker."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("loopscribe.chunks.dropped",
		metric.WithDescription("Total chunks dropped after a failed transcription."),
	); err != nil {
		return nil, err
	}
	if met.TicksSkipped, err = m.Int64Counter("loopscribe.ticks.skipped",
		metric.WithDescription("Total emitter ticks skipped for insufficient buffered audio."),
	); err != nil {
		return nil, err
	}
	if met.FramesEvicted, err = m.Int64Counter("loopscribe.frames.evicted",
		metric.WithDescription("Total frames evicted from the ring buffer."),
	); err != nil {
		return nil, err
	}
	if met.ConversionDegraded, err = m.Int64Counter("loopscribe.conversion.degraded",
		metric.WithDescription("Total chunks with degraded format conversion."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("loopscribe.engine.errors",
		metric.WithDescription("Total transcription backend errors by engine."),
	); err != nil {
		return nil, err
	}
	if met.BufferedAudio, err = m.Float64Gauge("loopscribe.buffer.seconds",
		metric.WithDescription("Ring buffer fill level at the last emitter tick."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("loopscribe.active_sessions",
		metric.WithDescription("Number of running pipeline sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from the global meter provider. Panics if instrument
// creation fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTranscription records one chunk's latency with its terminal status.
func (m *Metrics) RecordTranscription(ctx context.Context, latency time.Duration, status string) {
	m.TranscriptionDuration.Record(ctx, latency.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordEngineError increments the engine error counter for one backend.
func (m *Metrics) RecordEngineError(ctx context.Context, engine string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}
