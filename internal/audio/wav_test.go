package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestWrapUnwrapWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := WrapWAV(pcm, 1, 2, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("container length = %d, want %d", len(wav), 44+len(pcm))
	}

	got, info, err := UnwrapWAV(wav)
	if err != nil {
		t.Fatalf("UnwrapWAV: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.SampleWidth != 2 {
		t.Errorf("info = %+v, want 16000/1/2", info)
	}
}

func TestUnwrapWAVNotRIFF(t *testing.T) {
	_, _, err := UnwrapWAV([]byte("this is not audio at all, sorry"))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("error = %v, want ErrFormat", err)
	}

	_, _, err = UnwrapWAV([]byte("RIFF"))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("short input error = %v, want ErrFormat", err)
	}
}

func TestUnwrapWAVMissingChunks(t *testing.T) {
	// Valid signature but no fmt/data chunks.
	hdr := append([]byte("RIFF"), 0, 0, 0, 0)
	hdr = append(hdr, []byte("WAVE")...)
	_, _, err := UnwrapWAV(hdr)
	if !errors.Is(err, ErrCodec) {
		t.Errorf("error = %v, want ErrCodec", err)
	}
}

func TestUnwrapWAVSkipsForeignChunks(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}
	wav := WrapWAV(pcm, 1, 2, 8000)

	// Splice a LIST chunk between fmt and data, as streaming encoders do.
	list := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	got, info, err := UnwrapWAV(spliced)
	if err != nil {
		t.Fatalf("UnwrapWAV: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}
	if info.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", info.SampleRate)
	}
}

func TestUnwrapWAVTruncatedData(t *testing.T) {
	// A data chunk that declares more bytes than the buffer holds is
	// truncated to what is present, not rejected.
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wav := WrapWAV(pcm, 1, 2, 8000)
	binary.LittleEndian.PutUint32(wav[40:44], 1<<20)

	got, _, err := UnwrapWAV(wav)
	if err != nil {
		t.Fatalf("UnwrapWAV: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}
}

func TestUnwrapWAVStereoHeader(t *testing.T) {
	pcm := make([]byte, 16)
	wav := WrapWAV(pcm, 2, 2, 22050)

	_, info, err := UnwrapWAV(wav)
	if err != nil {
		t.Fatalf("UnwrapWAV: %v", err)
	}
	if info.Channels != 2 || info.SampleRate != 22050 || info.SampleWidth != 2 {
		t.Errorf("info = %+v, want 22050/2/2", info)
	}
}
