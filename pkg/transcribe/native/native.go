//go:build whispercpp

// Package native provides an in-process transcription engine backed by the
// whisper.cpp CGO bindings, eliminating HTTP overhead entirely. The
// whisper.cpp static library (libwhisper.a) and headers (whisper.h) must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// Build with the `whispercpp` tag; without it a stub that reports
// unavailability is compiled instead, so the project links without CGO.
package native

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loopscribe/loopscribe/pkg/audio"
	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// Compile-time assertion that Engine implements transcribe.Engine.
var _ transcribe.Engine = (*Engine)(nil)

// Engine implements transcribe.Engine using whisper.cpp Go bindings. The
// model is loaded once at construction and shared across calls; each call
// creates its own whisper context because contexts are not thread-safe.
type Engine struct {
	model    whisperlib.Model
	language string
}

// New loads the whisper.cpp model from modelPath. language is the BCP-47
// code forwarded to inference ("" defaults to "en"). The caller must call
// Close when the engine is no longer needed.
func New(modelPath, language string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("native: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("native: load model %q: %w", modelPath, err)
	}
	if language == "" {
		language = "en"
	}
	return &Engine{model: model, language: language}, nil
}

// Close releases the whisper model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe implements transcribe.Engine. The clip is decoded from WAV,
// converted to float32 mono samples, and run through a fresh whisper context.
func (e *Engine) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if err := ctx.Err(); err != nil {
		return transcribe.Result{}, err
	}

	pcm, format, err := audio.DecodeWAV(req.Audio)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("native: decode clip: %w", err)
	}
	samples := pcmToFloat32Mono(pcm, format.Channels)

	wctx, err := e.model.NewContext()
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("native: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return transcribe.Result{}, fmt.Errorf("native: set language %q: %w", lang, err)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcribe.Result{}, fmt.Errorf("native: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcribe.Result{}, fmt.Errorf("native: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return transcribe.Result{Text: strings.Join(parts, " ")}, nil
}

// pcmToFloat32Mono converts interleaved 16-bit PCM to the normalized float32
// mono samples whisper.cpp expects, averaging channels when necessary.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (channels * audio.BytesPerSample)
	out := make([]float32, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := (i*channels + c) * audio.BytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		out[i] = float32(sum/int32(channels)) / 32768.0
	}
	return out
}
