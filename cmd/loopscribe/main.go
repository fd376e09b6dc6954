// Command loopscribe captures a live audio stream and prints transcript
// fragments as they arrive.
//
// The heavy lifting lives in internal/pipeline; this shell loads the config,
// builds the engine stack, starts the pipeline on a device, and polls the
// two output queues until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loopscribe/loopscribe/internal/config"
	"github.com/loopscribe/loopscribe/internal/convert"
	"github.com/loopscribe/loopscribe/internal/observe"
	"github.com/loopscribe/loopscribe/internal/pipeline"
	"github.com/loopscribe/loopscribe/internal/resilience"
	"github.com/loopscribe/loopscribe/internal/worker"
	"github.com/loopscribe/loopscribe/pkg/audio"
	"github.com/loopscribe/loopscribe/pkg/capture"
	"github.com/loopscribe/loopscribe/pkg/transcribe"
	"github.com/loopscribe/loopscribe/pkg/transcribe/native"
	oaiengine "github.com/loopscribe/loopscribe/pkg/transcribe/openai"
	"github.com/loopscribe/loopscribe/pkg/transcribe/whisper"
)

// pollInterval is the cadence at which the shell drains the output queues.
const pollInterval = 250 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "loopscribe.yaml", "path to the YAML configuration file")
	deviceIndex := flag.Int("device", 0, "input device index (from the platform's enumeration)")
	deviceName := flag.String("device-name", "default input", "input device name")
	deviceRate := flag.Int("device-rate", 44100, "input device native sample rate")
	deviceChannels := flag.Int("device-channels", 2, "input device channel count")
	showStatus := flag.Bool("status", false, "print status/progress events alongside transcripts")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "loopscribe: config file %q not found (use -config to point at one)\n", *configPath)
			return 1
		}
		fmt.Fprintf(os.Stderr, "loopscribe: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		MetricsAddr: cfg.Metrics.ListenAddr,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Engine stack ──────────────────────────────────────────────────────────
	engine, err := buildEngine(cfg.Engine)
	if err != nil {
		slog.Error("failed to build transcription engine", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	device := audio.DeviceDescriptor{
		Index:            *deviceIndex,
		Name:             *deviceName,
		NativeSampleRate: *deviceRate,
		Channels:         *deviceChannels,
	}

	converter := newConverter(cfg.Conversion)

	maxBuffer := 30 * time.Second
	if cfg.Capture.MaxBufferSeconds > 0 {
		maxBuffer = time.Duration(cfg.Capture.MaxBufferSeconds) * time.Second
	}

	opts := []pipeline.Option{
		pipeline.WithChunkDuration(cfg.Chunking.EffectiveChunkDuration()),
		pipeline.WithMaxBuffer(maxBuffer),
		pipeline.WithEngineName(string(cfg.Engine.Name)),
		pipeline.WithWorkerOptions(worker.WithLanguage(cfg.Engine.Language)),
	}
	if cfg.Chunking.MinFrames > 0 {
		opts = append(opts, pipeline.WithMinFrames(cfg.Chunking.MinFrames))
	}

	ctrl := pipeline.New(openSource(), engine, converter, opts...)
	if err := ctrl.Start(ctx, device); err != nil {
		slog.Error("failed to start pipeline", "err", err)
		return 1
	}

	slog.Info("transcribing (Ctrl+C to stop)",
		"device", device.Name,
		"format", device.Format().String(),
		"engine", cfg.Engine.Name,
	)

	// ── Poll loop ─────────────────────────────────────────────────────────────
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case <-ticker.C:
			for {
				frag, ok := ctrl.NextFragment()
				if !ok {
					break
				}
				fmt.Printf("[%8s] %s\n", frag.Timestamp.Truncate(time.Second), frag.Text)
			}
			if *showStatus {
				for {
					status, ok := ctrl.NextStatus()
					if !ok {
						break
					}
					fmt.Fprintf(os.Stderr, "-- %s\n", status)
				}
			}
			if !ctrl.Running() {
				if err := ctrl.Err(); err != nil {
					slog.Error("pipeline failed", "err", err)
					return 1
				}
				break poll
			}
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("stopping pipeline")
	if err := ctrl.Stop(); err != nil {
		slog.Error("stop error", "err", err)
		return 1
	}

	// The forced final drain may have produced trailing fragments.
	for {
		frag, ok := ctrl.NextFragment()
		if !ok {
			break
		}
		fmt.Printf("[%8s] %s\n", frag.Timestamp.Truncate(time.Second), frag.Text)
	}
	return 0
}

// buildEngine constructs the primary backend and wraps it with a fallback
// when one is configured.
func buildEngine(cfg config.EngineConfig) (transcribe.Engine, error) {
	primary, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == nil {
		return primary, nil
	}

	secondary, err := newEngine(*cfg.Fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	fb := resilience.NewEngineFallback(primary, string(cfg.Name), resilience.BreakerConfig{})
	fb.AddFallback(string(cfg.Fallback.Name), secondary)
	return fb, nil
}

// newEngine constructs a single backend from one engine config block.
func newEngine(cfg config.EngineConfig) (transcribe.Engine, error) {
	switch cfg.Name {
	case config.EngineOpenAI:
		opts := []oaiengine.Option{oaiengine.WithTimeout(cfg.EffectiveTimeout())}
		if cfg.Model != "" {
			opts = append(opts, oaiengine.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, oaiengine.WithBaseURL(cfg.BaseURL))
		}
		return oaiengine.New(cfg.APIKey, opts...)
	case config.EngineWhisperServer:
		opts := []whisper.Option{whisper.WithTimeout(cfg.EffectiveTimeout())}
		if cfg.Model != "" {
			opts = append(opts, whisper.WithModel(cfg.Model))
		}
		return whisper.New(cfg.BaseURL, opts...)
	case config.EngineWhisperNative:
		eng, err := native.New(cfg.Model, cfg.Language)
		if err != nil {
			return nil, fmt.Errorf("whisper-native: %w", err)
		}
		return eng, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Name)
	}
}

// openSource returns the capture source for this platform. Device adapters
// are external collaborators; until one is linked in, the synthetic source
// lets the pipeline run end to end without hardware.
func openSource() capture.Source {
	return &capture.SyntheticSource{
		Script: []capture.Segment{
			{Duration: 10 * time.Minute},
		},
		Interval:  20 * time.Millisecond,
		FrameSize: 1024,
	}
}

// newConverter builds the conversion stage from config. The ffmpeg path is
// pinned only when configured; leaving it unset keeps the constructor's PATH
// probe, so a system-installed ffmpeg is picked up.
func newConverter(cfg config.ConversionConfig) *convert.Converter {
	opts := []convert.Option{
		convert.WithNormalization(cfg.NormalizeEnabled()),
		convert.WithTarget(targetFormat(cfg)),
	}
	if cfg.FFmpegPath != "" {
		opts = append(opts, convert.WithFFmpegPath(cfg.FFmpegPath))
	}
	return convert.New(opts...)
}

// targetFormat resolves the conversion target from config.
func targetFormat(cfg config.ConversionConfig) audio.Format {
	target := convert.DefaultTarget
	if cfg.TargetSampleRate > 0 {
		target.SampleRate = cfg.TargetSampleRate
	}
	return target
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var lvl slog.Level
	switch cfg.Level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
