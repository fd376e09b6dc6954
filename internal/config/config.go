// Package config provides the configuration schema and loader for the
// loopscribe transcription pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Profile selects one of the two chunking presets. Bulk favours accuracy
// with long chunks; live favours latency with short ticks.
type Profile string

const (
	// ProfileBulk emits 10-second chunks.
	ProfileBulk Profile = "bulk"

	// ProfileLive emits 3-second chunks.
	ProfileLive Profile = "live"
)

// IsValid reports whether p is a recognised profile.
func (p Profile) IsValid() bool {
	return p == ProfileBulk || p == ProfileLive
}

// EngineName selects a transcription backend implementation.
type EngineName string

const (
	// EngineOpenAI uses the hosted Whisper API.
	EngineOpenAI EngineName = "openai"

	// EngineWhisperServer uses a local whisper.cpp HTTP server.
	EngineWhisperServer EngineName = "whisper-server"

	// EngineWhisperNative uses the in-process whisper.cpp bindings
	// (requires the `whispercpp` build tag).
	EngineWhisperNative EngineName = "whisper-native"
)

// IsValid reports whether e is a recognised engine name.
func (e EngineName) IsValid() bool {
	switch e {
	case EngineOpenAI, EngineWhisperServer, EngineWhisperNative:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file with [Load] or [LoadFromReader]. There is no process-global config;
// the loaded struct is passed explicitly into every constructor that needs
// part of it.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Capture    CaptureConfig    `yaml:"capture"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Conversion ConversionConfig `yaml:"conversion"`
	Engine     EngineConfig     `yaml:"engine"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level controls verbosity. Defaults to "info".
	Level LogLevel `yaml:"level"`

	// JSON switches the handler to JSON output for log aggregation.
	JSON bool `yaml:"json"`
}

// CaptureConfig holds buffer settings for the capture stage.
type CaptureConfig struct {
	// MaxBufferSeconds caps the ring buffer; audio older than this is
	// evicted. Defaults to 30.
	MaxBufferSeconds int `yaml:"max_buffer_seconds"`
}

// ChunkingConfig controls chunk-boundary policy.
type ChunkingConfig struct {
	// Profile applies a preset: "bulk" (10s chunks) or "live" (3s chunks).
	// ChunkDuration, when set, overrides the preset.
	Profile Profile `yaml:"profile"`

	// ChunkDuration is the wall-clock period between chunk emissions, in
	// seconds.
	ChunkDuration float64 `yaml:"chunk_duration"`

	// MinFrames skips a tick when fewer frames are buffered. Defaults to 5.
	MinFrames int `yaml:"min_frames"`
}

// EffectiveChunkDuration resolves the chunk period from the explicit
// duration or the profile preset.
func (c ChunkingConfig) EffectiveChunkDuration() time.Duration {
	if c.ChunkDuration > 0 {
		return time.Duration(c.ChunkDuration * float64(time.Second))
	}
	if c.Profile == ProfileLive {
		return 3 * time.Second
	}
	return 10 * time.Second
}

// ConversionConfig controls the format conversion stage.
type ConversionConfig struct {
	// FFmpegPath pins the ffmpeg binary. Empty probes PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Normalize toggles loudness normalization. Defaults to true; set
	// `normalize: false` explicitly to disable.
	Normalize *bool `yaml:"normalize"`

	// TargetSampleRate is the backend's required rate. Defaults to 16000.
	TargetSampleRate int `yaml:"target_sample_rate"`
}

// NormalizeEnabled resolves the Normalize pointer with its default.
func (c ConversionConfig) NormalizeEnabled() bool {
	return c.Normalize == nil || *c.Normalize
}

// EngineConfig declares the transcription backend and an optional fallback.
type EngineConfig struct {
	// Name selects the primary backend.
	Name EngineName `yaml:"name"`

	// APIKey authenticates against the hosted API (openai engine).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend endpoint: API base for openai, server
	// URL for whisper-server.
	BaseURL string `yaml:"base_url"`

	// Model selects the model within the backend (e.g. "whisper-1",
	// "base.en", or a ggml model path for whisper-native).
	Model string `yaml:"model"`

	// Language is the ISO-639-1 hint forwarded with every chunk.
	Language string `yaml:"language"`

	// Timeout bounds each transcription call, in seconds. Defaults to 30.
	Timeout float64 `yaml:"timeout"`

	// Fallback, when non-nil, configures a secondary backend tried when the
	// primary fails.
	Fallback *EngineConfig `yaml:"fallback"`
}

// EffectiveTimeout resolves the call timeout with its default.
func (c EngineConfig) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout * float64(time.Second))
	}
	return 30 * time.Second
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// ListenAddr is the address for the /metrics HTTP listener. Empty
	// disables the endpoint; instruments still record in-process.
	ListenAddr string `yaml:"listen_addr"`
}
