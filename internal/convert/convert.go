// Package convert implements the format conversion stage of the pipeline.
//
// Each chunk is resampled and remixed from the capture device's native
// format to the transcription backend's target format (16 kHz mono by
// default), with a speech-band bandpass filter, then loudness-normalized.
// ffmpeg does the heavy lifting when present; when it is missing or a step
// fails, the stage degrades rather than failing the chunk: resampling falls
// back to the pure-Go path in pkg/audio and normalization falls back to RMS
// gain. A chunk is never dropped by this stage.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loopscribe/loopscribe/pkg/audio"
)

// DefaultTarget is the format hosted and local Whisper backends expect.
var DefaultTarget = audio.Format{SampleRate: 16000, Channels: 1}

// speech-band bandpass applied during resampling; dropped on retry when a
// given ffmpeg build rejects it.
const bandpassFilter = "highpass=f=50,lowpass=f=7000"

// loudness normalization profile (EBU R128 integrated loudness target).
const loudnormFilter = "loudnorm=I=-16:LRA=11:TP=-1.5"

// Result is the outcome of converting one chunk. Audio is always populated;
// degradation is reported, never turned into a dropped chunk.
type Result struct {
	// Audio is a self-contained WAV clip.
	Audio []byte

	// Format is the PCM format inside Audio. Equals the target format unless
	// conversion was fully degraded to pass-through.
	Format audio.Format

	// Degraded reports that at least one sub-step could not run as
	// configured.
	Degraded bool

	// Warnings describes each degradation, one entry per skipped or
	// fallen-back sub-step.
	Warnings []string
}

// Converter converts chunks to the target format. Construct with New; the
// zero value is not usable.
type Converter struct {
	target     audio.Format
	ffmpegPath string
	tmpDir     string
	normalize  bool
	probed     bool
	logger     *slog.Logger
}

// Option is a functional option for New.
type Option func(*Converter)

// WithTarget overrides the target format. Defaults to [DefaultTarget].
func WithTarget(f audio.Format) Option {
	return func(c *Converter) { c.target = f }
}

// WithFFmpegPath pins the ffmpeg binary instead of probing PATH. An empty
// path disables ffmpeg entirely, forcing the pure-Go fallback.
func WithFFmpegPath(path string) Option {
	return func(c *Converter) { c.ffmpegPath = path; c.probed = true }
}

// WithTempDir sets the directory for intermediate files. Defaults to the
// system temp dir.
func WithTempDir(dir string) Option {
	return func(c *Converter) { c.tmpDir = dir }
}

// WithNormalization toggles the loudness normalization sub-step. Enabled by
// default.
func WithNormalization(enabled bool) Option {
	return func(c *Converter) { c.normalize = enabled }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) { c.logger = l }
}

// New constructs a Converter. ffmpeg availability is probed exactly once
// here; a missing binary logs a warning and the converter runs pure-Go for
// its whole lifetime.
func New(opts ...Option) *Converter {
	c := &Converter{
		target:    DefaultTarget,
		tmpDir:    os.TempDir(),
		normalize: true,
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if !c.probed {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			c.logger.Warn("ffmpeg not found, audio conversion degraded to pure-Go resampling")
		} else {
			c.ffmpegPath = path
		}
	}
	return c
}

// FFmpegEnabled reports whether chunks will be converted through ffmpeg,
// either via a pinned path or a successful PATH probe at construction.
func (c *Converter) FFmpegEnabled() bool {
	return c.ffmpegPath != ""
}

// Convert resamples, remixes, and normalizes one chunk of raw PCM. It never
// fails: every sub-step that cannot run records a warning and the best
// available audio continues downstream.
func (c *Converter) Convert(ctx context.Context, pcm []byte, src audio.Format) Result {
	res := Result{Format: src}

	pcm, format, warn := c.resample(ctx, pcm, src)
	if warn != "" {
		res.Degraded = true
		res.Warnings = append(res.Warnings, warn)
	}

	if c.normalize {
		var nwarn string
		pcm, nwarn = c.normalizeLoudness(ctx, pcm, format)
		if nwarn != "" {
			res.Degraded = true
			res.Warnings = append(res.Warnings, nwarn)
		}
	}

	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		c.logger.Error("failed to encode converted chunk", "error", err)
		res.Degraded = true
		res.Warnings = append(res.Warnings, "wav encoding failed")
	}
	res.Audio = wav
	res.Format = format
	return res
}

// resample brings pcm to the target rate and channel count. Preference
// order: ffmpeg with bandpass, ffmpeg without bandpass, pure-Go linear
// resampling. The returned warning is empty when the preferred path ran.
func (c *Converter) resample(ctx context.Context, pcm []byte, src audio.Format) ([]byte, audio.Format, string) {
	if src == c.target {
		return pcm, src, ""
	}

	if c.ffmpegPath != "" {
		out, err := c.runFFmpeg(ctx, pcm, src,
			"-ar", fmt.Sprint(c.target.SampleRate),
			"-ac", fmt.Sprint(c.target.Channels),
			"-af", bandpassFilter,
		)
		if err == nil {
			return out, c.target, ""
		}
		c.logger.Debug("ffmpeg resample with bandpass failed, retrying without filter", "error", err)

		out, err = c.runFFmpeg(ctx, pcm, src,
			"-ar", fmt.Sprint(c.target.SampleRate),
			"-ac", fmt.Sprint(c.target.Channels),
		)
		if err == nil {
			return out, c.target, "bandpass filter unavailable"
		}
		c.logger.Warn("ffmpeg resample failed, falling back to pure-Go resampling", "error", err)
	}

	if !mixable(src.Channels, c.target.Channels) {
		// Pass-through: the backend gets the original audio and may reject
		// it, but the chunk is not dropped here.
		c.logger.Warn("resampling impossible, passing audio through unconverted",
			"source_format", src.String())
		return pcm, src, fmt.Sprintf("resample unavailable, audio passed through at %s", src)
	}
	return audio.Convert(pcm, src, c.target), c.target, "resampled without bandpass (ffmpeg unavailable)"
}

// mixable reports whether the pure-Go path can map src channels to dst
// channels. Only mono/stereo layouts are supported there.
func mixable(src, dst int) bool {
	return src == dst || (src == 2 && dst == 1) || (src == 1 && dst == 2)
}

// normalizeLoudness applies loudnorm via ffmpeg, or RMS gain as fallback.
// Failure keeps the pre-normalization audio.
func (c *Converter) normalizeLoudness(ctx context.Context, pcm []byte, format audio.Format) ([]byte, string) {
	if c.ffmpegPath != "" {
		// loudnorm resamples internally, so the output rate is pinned back
		// to the input rate.
		out, err := c.runFFmpeg(ctx, pcm, format,
			"-af", loudnormFilter,
			"-ar", fmt.Sprint(format.SampleRate),
			"-ac", fmt.Sprint(format.Channels),
		)
		if err == nil {
			return out, ""
		}
		c.logger.Warn("loudness normalization failed, using unnormalized audio", "error", err)
		return pcm, "loudness normalization skipped"
	}
	return audio.NormalizeGain(pcm, normalizeTargetRMS), "loudness normalization degraded to RMS gain"
}

// normalizeTargetRMS approximates -16 LUFS for speech on 16-bit samples.
const normalizeTargetRMS = 4000

// runFFmpeg round-trips pcm through ffmpeg with the given output args. The
// input is written to a temp WAV, the output decoded and verified before any
// file is removed, so a failed run never costs the caller its audio.
func (c *Converter) runFFmpeg(ctx context.Context, pcm []byte, src audio.Format, outArgs ...string) ([]byte, error) {
	wav, err := audio.EncodeWAV(pcm, src)
	if err != nil {
		return nil, fmt.Errorf("convert: encode input: %w", err)
	}

	in, err := os.CreateTemp(c.tmpDir, "chunk-in-*.wav")
	if err != nil {
		return nil, fmt.Errorf("convert: create temp input: %w", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	_, werr := in.Write(wav)
	cerr := in.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return nil, fmt.Errorf("convert: write temp input: %w", err)
	}

	outPath := filepath.Join(c.tmpDir, filepath.Base(inPath)+".out.wav")
	defer os.Remove(outPath)

	args := append([]string{"-y", "-hide_banner", "-loglevel", "error", "-i", inPath}, outArgs...)
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("convert: ffmpeg: %w: %s", err, out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("convert: read ffmpeg output: %w", err)
	}
	outPCM, _, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("convert: ffmpeg produced unreadable output: %w", err)
	}
	return outPCM, nil
}
