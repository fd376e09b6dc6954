package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: debug
capture:
  max_buffer_seconds: 30
chunking:
  profile: live
conversion:
  normalize: false
engine:
  name: openai
  api_key: sk-test
  language: en
`

func TestLoadFromReaderValid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Logging.Level != LogDebug {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	if got := cfg.Chunking.EffectiveChunkDuration(); got != 3*time.Second {
		t.Errorf("live profile chunk duration = %v, want 3s", got)
	}
	if cfg.Conversion.NormalizeEnabled() {
		t.Error("normalize: false was not honoured")
	}
	if got := cfg.Engine.EffectiveTimeout(); got != 30*time.Second {
		t.Errorf("default engine timeout = %v, want 30s", got)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	yaml := `
engine:
  name: openai
  api_key: sk-test
  tempo: fast
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Logging:  LoggingConfig{Level: "verbose"},
		Chunking: ChunkingConfig{Profile: "turbo", MinFrames: -1},
		Engine:   EngineConfig{Name: "dictaphone"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors, got nil")
	}
	for _, want := range []string{"logging.level", "chunking.profile", "chunking.min_frames", "engine.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidateEngineRequirements(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     EngineConfig
		wantErr string
	}{
		{"openai missing key", EngineConfig{Name: EngineOpenAI}, "api_key"},
		{"whisper-server missing url", EngineConfig{Name: EngineWhisperServer}, "base_url"},
		{"whisper-native missing model", EngineConfig{Name: EngineWhisperNative}, "model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(&Config{Engine: tc.cfg})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v, want error mentioning %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateFallbackDepth(t *testing.T) {
	t.Parallel()

	cfg := &Config{Engine: EngineConfig{
		Name:   EngineOpenAI,
		APIKey: "sk-test",
		Fallback: &EngineConfig{
			Name:    EngineWhisperServer,
			BaseURL: "http://localhost:8080",
			Fallback: &EngineConfig{
				Name:  EngineWhisperNative,
				Model: "/models/ggml-base.bin",
			},
		},
	}}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "one fallback level") {
		t.Fatalf("got %v, want fallback depth error", err)
	}
}

func TestValidateChunkExceedsBuffer(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Capture:  CaptureConfig{MaxBufferSeconds: 5},
		Chunking: ChunkingConfig{ChunkDuration: 10},
		Engine:   EngineConfig{Name: EngineOpenAI, APIKey: "sk-test"},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "max_buffer_seconds") {
		t.Fatalf("got %v, want buffer/chunk mismatch error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/loopscribe.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
