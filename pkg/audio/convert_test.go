package audio_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/loopscribe/loopscribe/pkg/audio"
)

// samplesToBytes converts int16 samples to their little-endian byte form.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice back to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestDownmixToMono(t *testing.T) {
	t.Parallel()

	// Two stereo frames: L=100,R=200 and L=-100,R=-200.
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	got := bytesToSamples(audio.DownmixToMono(stereo))
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmixToMono_Clamping(t *testing.T) {
	t.Parallel()

	stereo := samplesToBytes([]int16{math.MaxInt16, math.MaxInt16})
	got := bytesToSamples(audio.DownmixToMono(stereo))
	if got[0] != math.MaxInt16 {
		t.Errorf("got %d, want %d", got[0], math.MaxInt16)
	}
}

func TestUpmixToStereo(t *testing.T) {
	t.Parallel()

	mono := samplesToBytes([]int16{100, -200})
	got := bytesToSamples(audio.UpmixToStereo(mono))
	want := []int16{100, 100, -200, -200}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample_Downrate(t *testing.T) {
	t.Parallel()

	// 8 samples at 32 kHz → 4 samples at 16 kHz.
	in := samplesToBytes([]int16{0, 100, 200, 300, 400, 500, 600, 700})
	out := audio.Resample(in, 32000, 16000, 1)
	got := bytesToSamples(out)
	if len(got) != 4 {
		t.Fatalf("got %d samples, want 4", len(got))
	}
	// Linear interpolation at exactly 2:1 picks every other source sample.
	want := []int16{0, 200, 400, 600}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResample_SameRateUnchanged(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.Resample(in, 16000, 16000, 1)
	if &in[0] != &out[0] {
		t.Error("same-rate resample should return the input unchanged")
	}
}

func TestConvert_StereoHighRateToMono16k(t *testing.T) {
	t.Parallel()

	// One second of 48 kHz stereo.
	in := make([]byte, 48000*2*2)
	out := audio.Convert(in,
		audio.Format{SampleRate: 48000, Channels: 2},
		audio.Format{SampleRate: 16000, Channels: 1},
	)
	if len(out) != 16000*2 {
		t.Fatalf("got %d bytes, want %d", len(out), 16000*2)
	}
}

func TestNormalizeGain(t *testing.T) {
	t.Parallel()

	quiet := samplesToBytes([]int16{100, -100, 100, -100})
	loud := audio.NormalizeGain(quiet, 1000)
	if rms := audio.RMS(loud); math.Abs(rms-1000) > 1 {
		t.Errorf("RMS after normalization = %.1f, want ~1000", rms)
	}

	// Idempotent: normalizing again must not change the clip.
	again := audio.NormalizeGain(loud, 1000)
	if rms1, rms2 := audio.RMS(loud), audio.RMS(again); math.Abs(rms1-rms2) > 1 {
		t.Errorf("second normalization changed RMS: %.1f → %.1f", rms1, rms2)
	}

	// Silence stays silence.
	silent := samplesToBytes([]int16{0, 0, 0})
	if out := audio.NormalizeGain(silent, 1000); audio.RMS(out) != 0 {
		t.Error("normalizing silence should not introduce energy")
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{
		Data:       make([]byte, 4096*2*2), // 4096 stereo samples
		SampleRate: 44100,
		Channels:   2,
	}
	if got := f.Samples(); got != 4096 {
		t.Errorf("Samples() = %d, want 4096", got)
	}
	want := time.Duration(4096) * time.Second / 44100
	if got := f.Duration(); got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}
}
