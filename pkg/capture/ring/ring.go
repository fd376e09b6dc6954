// Package ring implements the bounded frame accumulator that sits between
// the capture source and the chunk emitter.
//
// The buffer is append-only with oldest-first eviction: the capture goroutine
// pushes frames as they arrive and a timer-driven consumer periodically drains
// a snapshot. A single mutex covers all operations — Push runs on the capture
// goroutine while DrainAll/EnforceCapacity run on the processing goroutine,
// and none of them may block indefinitely. Push in particular never waits on
// the consumer; when the buffer is over capacity the oldest audio is dropped,
// never the newest.
package ring

import (
	"sync"
	"time"

	"github.com/loopscribe/loopscribe/pkg/audio"
)

// Buffer accumulates capture frames up to a maximum buffered duration.
// Frames are owned by the buffer from Push until they are handed out by a
// drain; callers must not retain or mutate pushed frame data.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	frames   []audio.Frame
	buffered time.Duration
	max      time.Duration

	pushed  uint64
	evicted uint64
}

// New creates a Buffer that retains at most max buffered audio.
// A non-positive max disables eviction (unbounded buffer).
func New(max time.Duration) *Buffer {
	return &Buffer{max: max}
}

// Push appends a frame, evicting the oldest frames if the buffered duration
// would exceed the configured maximum. It never blocks on the consumer.
func (b *Buffer) Push(frame audio.Frame) {
	if len(frame.Data) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, frame)
	b.buffered += frame.Duration()
	b.pushed++
	b.evictLocked()
}

// EnforceCapacity evicts oldest frames until the buffered duration is within
// the configured maximum. Push already enforces this bound; the method exists
// so the processing stage can re-assert it before a capped drain.
func (b *Buffer) EnforceCapacity() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()
}

// DrainAll atomically removes and returns every buffered frame, leaving the
// buffer empty. A second immediate call returns nil.
func (b *Buffer) DrainAll() []audio.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.frames
	b.frames = nil
	b.buffered = 0
	if len(frames) == 0 {
		return nil
	}
	return frames
}

// DrainWindow drains like [Buffer.DrainAll] but caps the result at the most
// recent max of audio, discarding anything older. This is the emitter's
// staleness bound: audio that has waited longer than the window is not worth
// transcribing any more.
func (b *Buffer) DrainWindow(max time.Duration) []audio.Frame {
	if max <= 0 {
		return b.DrainAll()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.frames
	b.frames = nil
	b.buffered = 0

	var kept time.Duration
	start := len(frames)
	for start > 0 && kept < max {
		start--
		kept += frames[start].Duration()
	}
	b.evicted += uint64(start)
	if start == len(frames) {
		return nil
	}
	return frames[start:]
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// BufferedDuration returns the total play time currently buffered.
func (b *Buffer) BufferedDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffered
}

// Stats reports lifetime push/evict counts for observability.
func (b *Buffer) Stats() (pushed, evicted uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushed, b.evicted
}

// Reset discards all buffered frames and lifetime counters. Used when the
// pipeline restarts a session.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.buffered = 0
	b.pushed = 0
	b.evicted = 0
}

// evictLocked drops oldest frames until buffered ≤ max. The survivors are
// copied to a fresh backing array so evicted frame data can be collected
// instead of being pinned by the shared array. Must be called with b.mu held.
func (b *Buffer) evictLocked() {
	if b.max <= 0 || b.buffered <= b.max {
		return
	}
	start := 0
	for start < len(b.frames) && b.buffered > b.max {
		b.buffered -= b.frames[start].Duration()
		start++
	}
	b.evicted += uint64(start)

	fresh := make([]audio.Frame, len(b.frames)-start)
	copy(fresh, b.frames[start:])
	b.frames = fresh
}
