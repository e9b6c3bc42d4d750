package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVInfo describes the PCM payload recovered from a WAV container.
type WAVInfo struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

const wavHeaderSize = 44

// WrapWAV frames raw PCM in a canonical RIFF/WAVE container.
func WrapWAV(pcm []byte, channels, sampleWidth, rate int) []byte {
	byteRate := rate * channels * sampleWidth
	blockAlign := channels * sampleWidth

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(sampleWidth*8))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// UnwrapWAV parses a RIFF/WAVE container and returns the PCM payload plus its
// format. Fails with ErrFormat when the RIFF signature is absent, and with
// ErrCodec when the chunk structure is truncated. Non-fmt/data chunks (LIST,
// fact, ...) are skipped.
func UnwrapWAV(data []byte) ([]byte, WAVInfo, error) {
	var info WAVInfo

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, info, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrFormat)
	}

	var pcm []byte
	sawFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Tolerate a data chunk whose declared size overruns the
			// buffer (streamed writers do this); truncate to what we have.
			if id == "data" && body < len(data) {
				size = len(data) - body
			} else {
				return nil, info, fmt.Errorf("%w: truncated %q chunk", ErrCodec, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, info, fmt.Errorf("%w: short fmt chunk", ErrCodec)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.SampleWidth = int(binary.LittleEndian.Uint16(data[body+14:body+16])) / 8
			sawFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !sawFmt || pcm == nil {
		return nil, info, fmt.Errorf("%w: missing fmt or data chunk", ErrCodec)
	}
	return pcm, info, nil
}
