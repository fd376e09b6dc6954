package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// wavHeaderSize is the fixed size of the canonical 44-byte RIFF/WAV header
// this codec reads and writes (PCM, single fmt and data chunk).
const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit signed little-endian PCM in a RIFF/WAV
// container. The result is a self-contained clip suitable for upload to a
// transcription backend or for handing to an external converter.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio: cannot encode empty PCM buffer")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format %s", format)
	}

	byteRate := format.SampleRate * format.Channels * BytesPerSample
	blockAlign := format.Channels * BytesPerSample

	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 8*BytesPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)

	return buf, nil
}

// DecodeWAV extracts the PCM payload and format from a WAV clip produced by
// [EncodeWAV] or an external converter emitting 16-bit PCM. Unknown chunks
// between fmt and data (ffmpeg writes a LIST metadata chunk there) are
// skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	var f Format
	if len(data) < wavHeaderSize {
		return nil, f, fmt.Errorf("audio: WAV data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, f, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	var haveFmt bool
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body > len(data) {
			return nil, f, fmt.Errorf("audio: malformed %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, f, fmt.Errorf("audio: truncated fmt chunk")
			}
			if af := binary.LittleEndian.Uint16(data[body : body+2]); af != 1 {
				return nil, f, fmt.Errorf("audio: unsupported WAV audio format %d (want PCM)", af)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != 16 {
				return nil, f, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, f, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			if size > len(data)-body {
				size = len(data) - body
			}
			return data[body : body+size], f, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		off = body + size + size%2
	}
	return nil, f, fmt.Errorf("audio: missing data chunk")
}

// WAVDuration reports the play time of a WAV clip without decoding its
// payload.
func WAVDuration(data []byte) (time.Duration, error) {
	pcm, f, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	samples := len(pcm) / BytesPerSample / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate), nil
}
