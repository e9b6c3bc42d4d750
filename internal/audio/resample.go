package audio

// Resample converts little-endian mono PCM16 from one sample rate to another
// using linear interpolation. The conversion is deterministic and handles
// partial frames of any length; it never assumes a fixed frame duration.
// Odd trailing bytes are ignored.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		return pcm
	}

	in := len(pcm) / 2
	if in == 0 {
		return nil
	}

	out := int(int64(in) * int64(toRate) / int64(fromRate))
	if out == 0 {
		return nil
	}

	result := make([]byte, out*2)
	for i := 0; i < out; i++ {
		// Source position for this output sample, split into the sample
		// index and the fractional distance to the next one.
		pos := int64(i) * int64(fromRate)
		idx := int(pos / int64(toRate))
		frac := pos % int64(toRate)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < in {
			s1 = sampleAt(pcm, idx+1)
		}

		v := int64(s0) + (int64(s1)-int64(s0))*frac/int64(toRate)
		result[i*2] = byte(v)
		result[i*2+1] = byte(uint16(int16(v)) >> 8)
	}
	return result
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
}
