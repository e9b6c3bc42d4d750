package stt

import "context"

// Client defines the interface for speech-to-text providers.
type Client interface {
	// Transcribe converts a complete WAV recording to text. An empty string
	// with a nil error means the provider heard nothing usable.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
