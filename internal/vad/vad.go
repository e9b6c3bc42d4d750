// Package vad implements frame-by-frame voice activity detection for the
// inbound media stream. A cheap RMS energy classifier feeds a hysteresis
// state machine so single noisy frames never flip the speaking state.
package vad

import "math"

// Config tunes the detector. Thresholds are empirical and exposed so they can
// be adjusted per deployment without code changes.
type Config struct {
	SampleRate      int // e.g. 8000
	FrameDurationMs int // e.g. 20
	// SpeechFrames is the number of consecutive speech frames required to
	// enter the speaking state (default 6 ≈ 120ms at 20ms frames).
	SpeechFrames int
	// SilenceFrames is the number of consecutive non-speech frames required
	// to leave the speaking state (default 18 ≈ 360ms).
	SilenceFrames int
	// WindowFrames bounds the recent-classification window used for the
	// advisory confidence score (default 30).
	WindowFrames int
	// EnergyThreshold is the RMS level (against full-scale int16) above
	// which a frame counts as speech (default 300).
	EnergyThreshold float64
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.FrameDurationMs == 0 {
		c.FrameDurationMs = 20
	}
	if c.SpeechFrames == 0 {
		c.SpeechFrames = 6
	}
	if c.SilenceFrames == 0 {
		c.SilenceFrames = 18
	}
	if c.WindowFrames == 0 {
		c.WindowFrames = 30
	}
	if c.EnergyThreshold == 0 {
		c.EnergyThreshold = 300
	}
	return c
}

// Result reports the classification of one frame and any state transition it
// caused. SpeechStarted and SpeechEnded each fire exactly once per transition.
type Result struct {
	IsSpeech      bool
	IsSpeaking    bool
	SpeechStarted bool
	SpeechEnded   bool
	// Confidence is the fraction of speech frames in the recent window.
	// Advisory only; it never gates transitions.
	Confidence float64
}

// Detector classifies fixed-duration PCM16 frames and smooths the
// speech/silence decision with consecutive-frame hysteresis. Not safe for
// concurrent use; each session owns one detector.
type Detector struct {
	cfg       Config
	frameSize int // bytes per frame

	speaking      bool
	speechFrames  int
	silenceFrames int

	window []bool
	wpos   int
	wlen   int
}

// New creates a detector for the configured frame geometry.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg:       cfg,
		frameSize: cfg.SampleRate * cfg.FrameDurationMs / 1000 * 2,
		window:    make([]bool, cfg.WindowFrames),
	}
}

// FrameSize returns the expected frame length in bytes.
func (d *Detector) FrameSize() int { return d.frameSize }

// ProcessFrame classifies one PCM16 frame. Frames shorter than the configured
// size are zero-padded and longer ones truncated, so a ragged stream never
// breaks classification.
func (d *Detector) ProcessFrame(frame []byte) Result {
	if len(frame) < d.frameSize {
		padded := make([]byte, d.frameSize)
		copy(padded, frame)
		frame = padded
	} else if len(frame) > d.frameSize {
		frame = frame[:d.frameSize]
	}

	isSpeech := d.classify(frame)

	d.window[d.wpos] = isSpeech
	d.wpos = (d.wpos + 1) % len(d.window)
	if d.wlen < len(d.window) {
		d.wlen++
	}

	if isSpeech {
		d.speechFrames++
		d.silenceFrames = 0
	} else {
		d.silenceFrames++
		d.speechFrames = 0
	}

	res := Result{
		IsSpeech:   isSpeech,
		Confidence: d.confidence(),
	}

	if !d.speaking && d.speechFrames >= d.cfg.SpeechFrames {
		d.speaking = true
		res.SpeechStarted = true
	} else if d.speaking && d.silenceFrames >= d.cfg.SilenceFrames {
		d.speaking = false
		res.SpeechEnded = true
	}
	res.IsSpeaking = d.speaking
	return res
}

// Reset clears all counters and the window and forces the not-speaking state.
// Callers must invoke it whenever the session buffer is discarded so a stale
// run-length cannot fire a spurious transition on the next frame.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechFrames = 0
	d.silenceFrames = 0
	d.wpos = 0
	d.wlen = 0
}

// classify labels one well-formed frame. Any malformed sample data degrades
// to non-speech rather than interrupting the stream.
func (d *Detector) classify(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(frame[i*2]) | uint16(frame[i*2+1])<<8))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	return rms >= d.cfg.EnergyThreshold
}

func (d *Detector) confidence() float64 {
	if d.wlen == 0 {
		return 0
	}
	speech := 0
	for i := 0; i < d.wlen; i++ {
		if d.window[i] {
			speech++
		}
	}
	return float64(speech) / float64(d.wlen)
}
