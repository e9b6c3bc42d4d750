// Package audio provides the pure transcoding helpers the media pipeline is
// built on: G.711 μ-law (the Twilio media stream codec) to and from 16-bit
// linear PCM, linear sample-rate conversion, and WAV container framing.
// Everything here is stateless so the VAD, buffering, and synthesis layers
// can be tested without touching the network.
package audio

import (
	"errors"
	"fmt"
)

// ErrCodec indicates a malformed or undersized codec payload.
var ErrCodec = errors.New("audio: malformed codec payload")

// ErrFormat indicates an unrecognized container format.
var ErrFormat = errors.New("audio: unrecognized container format")

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawSegments maps the top bits of a biased sample magnitude to its
// exponent segment per G.711.
var mulawSegments = [256]byte{}

func init() {
	seg := byte(0)
	for i := 0; i < 256; i++ {
		if i >= 1<<(seg+1) && seg < 7 {
			seg++
		}
		mulawSegments[i] = seg
	}
}

// EncodeMulawSample compresses one 16-bit linear PCM sample to 8-bit μ-law.
func EncodeMulawSample(s int16) byte {
	sign := byte(0)
	sample := int32(s)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	seg := mulawSegments[byte(sample>>7)]
	mantissa := byte(sample>>(seg+3)) & 0x0F
	return ^(sign | (seg << 4) | mantissa)
}

// DecodeMulawSample expands one 8-bit μ-law byte to a 16-bit linear sample.
func DecodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	seg := (b >> 4) & 0x07
	mantissa := b & 0x0F

	sample := (int32(mantissa)<<3 + mulawBias) << seg
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// DecodeMulaw decodes a μ-law payload to little-endian PCM16. Each input byte
// yields one sample. An empty payload fails with ErrCodec so callers never
// feed zero-length frames downstream.
func DecodeMulaw(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty mu-law payload", ErrCodec)
	}
	pcm := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := DecodeMulawSample(b)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(uint16(s) >> 8)
	}
	return pcm, nil
}

// EncodeMulaw encodes little-endian PCM16 to a μ-law payload. The PCM byte
// count must be even (whole 16-bit samples).
func EncodeMulaw(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: pcm length %d is not whole 16-bit samples", ErrCodec, len(pcm))
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		out[i] = EncodeMulawSample(s)
	}
	return out, nil
}

// StereoToMono downmixes interleaved 16-bit stereo PCM to mono by averaging
// each L+R pair. Trailing partial frames are dropped.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int32(int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8))
		r := int32(int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8))
		m := int16((l + r) / 2)
		out[i*2] = byte(m)
		out[i*2+1] = byte(uint16(m) >> 8)
	}
	return out
}
