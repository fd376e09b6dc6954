// Package whisper provides a transcription engine backed by a local
// whisper.cpp server (the whisper-server binary exposing POST /inference).
//
// The engine submits each clip as a multipart upload and parses the JSON
// response. It performs no buffering or segmentation of its own — the
// pipeline hands it fully formed chunks.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loopscribe/loopscribe/pkg/transcribe"
)

// Compile-time assertion that Engine implements transcribe.Engine.
var _ transcribe.Engine = (*Engine)(nil)

// Engine implements transcribe.Engine against a whisper.cpp HTTP server.
type Engine struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en", "small"). When empty the server uses whichever model it was
// started with — this is the default.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.httpClient.Timeout = d }
}

// New creates an Engine that connects to the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Transcribe implements transcribe.Engine. It POSTs the clip to /inference
// as multipart/form-data and returns the transcribed text.
func (e *Engine) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if len(req.Audio) == 0 {
		return transcribe.Result{}, errors.New("whisper: empty audio clip")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"language": req.Language,
		"model":    e.model,
		"prompt":   req.Prompt,
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(key, value); err != nil {
			return transcribe.Result{}, fmt.Errorf("whisper: write %s field: %w", key, err)
		}
	}
	if err := mw.Close(); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return transcribe.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return transcribe.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return transcribe.Result{Text: strings.TrimSpace(result.Text)}, nil
}
