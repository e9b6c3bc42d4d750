package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const sarvamSTTURL = "https://api.sarvam.ai/speech-to-text"

// SarvamClient implements the Client interface using Sarvam's batch
// speech-to-text API. The utterance is uploaded as a complete WAV file;
// Sarvam needs the container headers intact.
type SarvamClient struct {
	apiKey     string
	model      string
	language   string
	url        string
	httpClient *http.Client
}

// SarvamConfig holds configuration for the Sarvam STT client.
type SarvamConfig struct {
	APIKey   string
	Model    string // e.g. "saaras:v2"
	Language string // e.g. "hi-IN"
	BaseURL  string // override for tests
	// HTTPClient is the shared pooled client; nil falls back to a default.
	HTTPClient *http.Client
}

// NewSarvamClient creates a new Sarvam STT client.
func NewSarvamClient(cfg SarvamConfig) *SarvamClient {
	model := cfg.Model
	if model == "" {
		model = "saaras:v2"
	}
	language := cfg.Language
	if language == "" {
		language = "hi-IN"
	}
	url := cfg.BaseURL
	if url == "" {
		url = sarvamSTTURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SarvamClient{
		apiKey:     cfg.APIKey,
		model:      model,
		language:   language,
		url:        url,
		httpClient: httpClient,
	}
}

// sttResponse represents a Sarvam speech-to-text response.
type sttResponse struct {
	Transcript string `json:"transcript"`
}

// Transcribe uploads WAV audio and returns the recognized text.
func (c *SarvamClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) < 44 || !bytes.HasPrefix(wav, []byte("RIFF")) {
		return "", fmt.Errorf("audio is not a valid WAV file")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	url := fmt.Sprintf("%s?model=%s&language_code=%s", c.url, c.model, c.language)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("API-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("Sarvam STT error: %s - %s", resp.Status, string(respBody))
	}

	var sttResp sttResponse
	if err := json.NewDecoder(resp.Body).Decode(&sttResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return sttResp.Transcript, nil
}
