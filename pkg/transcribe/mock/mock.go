// Package mock provides a test double for the transcribe.Engine interface.
//
// Pre-populate Results with the texts the engine should return in order, or
// set Fn for full per-call control. Every call is recorded and can be
// inspected after the fact.
//
// Example:
//
//	eng := &mock.Engine{Results: []string{"hello", "world"}}
//	res, _ := eng.Transcribe(ctx, req) // res.Text == "hello"
package mock

import (
	"context"
	"sync"

	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Audio is the caller's slice,
	// not a copy.
	Req transcribe.Request
}

// Engine is a mock implementation of transcribe.Engine.
type Engine struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted, calls
	// return an empty Result unless Err or Fn is set.
	Results []string

	// Err, if non-nil, is returned by every call (after recording it).
	Err error

	// Fn, if non-nil, overrides Results and Err entirely.
	Fn func(ctx context.Context, req transcribe.Request) (transcribe.Result, error)

	// Delay, if non-nil, makes each call wait on the returned channel before
	// replying, honouring ctx cancellation. Used to exercise timeout paths.
	Delay func() <-chan struct{}

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Ensure Engine implements transcribe.Engine at compile time.
var _ transcribe.Engine = (*Engine)(nil)

// Transcribe records the call, then replies from Fn, Err, or Results.
func (e *Engine) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, TranscribeCall{Ctx: ctx, Req: req})
	fn, err, delay := e.Fn, e.Err, e.Delay
	var text string
	if fn == nil && err == nil && e.next < len(e.Results) {
		text = e.Results[e.next]
		e.next++
	}
	e.mu.Unlock()

	if delay != nil {
		select {
		case <-ctx.Done():
			return transcribe.Result{}, ctx.Err()
		case <-delay():
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return transcribe.Result{}, err
	}
	return transcribe.Result{Text: text}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}

// Prompts returns the Prompt field of every recorded call in order.
func (e *Engine) Prompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Calls))
	for i, c := range e.Calls {
		out[i] = c.Req.Prompt
	}
	return out
}

// ResetCalls clears all recorded calls and rewinds Results. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = nil
	e.next = 0
}
