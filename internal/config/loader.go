package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos fail loudly instead of being
// silently ignored.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	if cfg.Capture.MaxBufferSeconds < 0 {
		errs = append(errs, fmt.Errorf("capture.max_buffer_seconds %d must not be negative", cfg.Capture.MaxBufferSeconds))
	}

	if cfg.Chunking.Profile != "" && !cfg.Chunking.Profile.IsValid() {
		errs = append(errs, fmt.Errorf("chunking.profile %q is invalid; valid values: bulk, live", cfg.Chunking.Profile))
	}
	if cfg.Chunking.ChunkDuration < 0 {
		errs = append(errs, fmt.Errorf("chunking.chunk_duration %.1f must not be negative", cfg.Chunking.ChunkDuration))
	}
	if cfg.Chunking.MinFrames < 0 {
		errs = append(errs, fmt.Errorf("chunking.min_frames %d must not be negative", cfg.Chunking.MinFrames))
	}
	if max, chunk := cfg.Capture.MaxBufferSeconds, cfg.Chunking.EffectiveChunkDuration(); max > 0 && chunk.Seconds() > float64(max) {
		errs = append(errs, fmt.Errorf("chunking duration %v exceeds capture.max_buffer_seconds %d; chunks would always be truncated", chunk, max))
	}

	if cfg.Conversion.TargetSampleRate < 0 {
		errs = append(errs, fmt.Errorf("conversion.target_sample_rate %d must not be negative", cfg.Conversion.TargetSampleRate))
	}

	errs = append(errs, validateEngine("engine", &cfg.Engine)...)

	return errors.Join(errs...)
}

// validateEngine checks one engine block and, recursively, its fallback.
func validateEngine(prefix string, cfg *EngineConfig) []error {
	var errs []error

	if cfg.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required; valid values: openai, whisper-server, whisper-native", prefix))
	} else if !cfg.Name.IsValid() {
		errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: openai, whisper-server, whisper-native", prefix, cfg.Name))
	}

	switch cfg.Name {
	case EngineOpenAI:
		if cfg.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for the openai engine", prefix))
		}
	case EngineWhisperServer:
		if cfg.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for the whisper-server engine", prefix))
		}
	case EngineWhisperNative:
		if cfg.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model (ggml model path) is required for the whisper-native engine", prefix))
		}
	}

	if cfg.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %.1f must not be negative", prefix, cfg.Timeout))
	}

	if cfg.Fallback != nil {
		if cfg.Fallback.Fallback != nil {
			errs = append(errs, fmt.Errorf("%s.fallback.fallback: only one fallback level is supported", prefix))
		}
		errs = append(errs, validateEngine(prefix+".fallback", cfg.Fallback)...)
	}
	return errs
}
