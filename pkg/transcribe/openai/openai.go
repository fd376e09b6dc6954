// Package openai provides a transcription engine backed by the OpenAI
// audio transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// defaultModel is the hosted Whisper model used when none is configured.
const defaultModel = "whisper-1"

// Compile-time assertion that Engine implements transcribe.Engine.
var _ transcribe.Engine = (*Engine)(nil)

// Engine implements transcribe.Engine using the OpenAI API.
type Engine struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the engine.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithModel selects the transcription model (e.g. "whisper-1",
// "gpt-4o-mini-transcribe"). Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL, e.g. for an
// API-compatible local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout. Defaults to 30s so a hung
// backend cannot stall the transcription worker indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an OpenAI transcription Engine.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Engine{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements transcribe.Engine by uploading the WAV clip to the
// transcriptions endpoint. Auth, quota, and network failures surface as
// errors; an empty transcription is returned as an empty Result.
func (e *Engine) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if len(req.Audio) == 0 {
		return transcribe.Result{}, fmt.Errorf("openai: empty audio clip")
	}

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(e.model),
		File:  oai.File(bytes.NewReader(req.Audio), "chunk.wav", "audio/wav"),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("openai: transcription: %w", err)
	}
	return transcribe.Result{Text: resp.Text}, nil
}
