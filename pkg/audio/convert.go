package audio

import (
	"encoding/binary"
	"math"
)

// Convert converts interleaved 16-bit PCM from its source format to target.
// Channel downmix runs before resampling so stereo input is never resampled
// twice. Returns the input unchanged when the formats already match. Input
// with an odd byte count is truncated to the last whole sample.
func Convert(pcm []byte, src, target Format) []byte {
	if len(pcm)%BytesPerSample != 0 {
		pcm = pcm[:len(pcm)-len(pcm)%BytesPerSample]
	}
	if src == target {
		return pcm
	}

	if src.Channels == 2 && target.Channels == 1 {
		pcm = DownmixToMono(pcm)
		src.Channels = 1
	} else if src.Channels == 1 && target.Channels == 2 {
		pcm = UpmixToStereo(pcm)
		src.Channels = 2
	}

	if src.SampleRate != target.SampleRate {
		pcm = Resample(pcm, src.SampleRate, target.SampleRate, src.Channels)
	}
	return pcm
}

// DownmixToMono averages each interleaved L+R pair into a single mono sample.
// int32 arithmetic prevents overflow before the result is clamped.
func DownmixToMono(pcm []byte) []byte {
	frames := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16((l+r)/2)))
	}
	return out
}

// UpmixToStereo duplicates each mono sample into an L+R pair.
func UpmixToStereo(pcm []byte) []byte {
	samples := len(pcm) / BytesPerSample
	out := make([]byte, samples*2*BytesPerSample)
	for i := range samples {
		out[i*4] = pcm[i*2]
		out[i*4+1] = pcm[i*2+1]
		out[i*4+2] = pcm[i*2]
		out[i*4+3] = pcm[i*2+1]
	}
	return out
}

// Resample converts 16-bit PCM from srcRate to dstRate using linear
// interpolation, preserving the interleaved channel count. Returns the input
// unchanged when the rates match or either rate is invalid.
func Resample(pcm []byte, srcRate, dstRate, channels int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := channels * BytesPerSample
	srcFrames := len(pcm) / stride
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*stride)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		for c := range channels {
			s0 := int16(binary.LittleEndian.Uint16(pcm[idx*stride+c*2:]))
			s1 := s0
			if idx+1 < srcFrames {
				s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*stride+c*2:]))
			}
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			binary.LittleEndian.PutUint16(out[i*stride+c*2:], uint16(v))
		}
	}
	return out
}

// RMS returns the root-mean-square energy of a 16-bit PCM buffer, in PCM
// sample units (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// NormalizeGain scales the buffer so its RMS energy reaches targetRMS,
// clamping individual samples to the int16 range. Buffers already at or above
// the target, and silent buffers, are returned unchanged — applying the same
// target twice is a no-op.
func NormalizeGain(pcm []byte, targetRMS float64) []byte {
	current := RMS(pcm)
	if current == 0 || current >= targetRMS {
		return pcm
	}
	gain := targetRMS / current
	out := make([]byte, len(pcm)/BytesPerSample*BytesPerSample)
	for i := 0; i < len(out); i += 2 {
		v := int32(float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain)
		binary.LittleEndian.PutUint16(out[i:], uint16(clamp16(v)))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
