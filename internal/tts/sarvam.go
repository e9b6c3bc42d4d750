package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const sarvamTTSURL = "https://api.sarvam.ai/text-to-speech"

// SarvamClient implements the Client interface using Sarvam's TTS API.
type SarvamClient struct {
	apiKey     string
	model      string
	speaker    string
	language   string
	sampleRate int
	pace       float64
	url        string
	httpClient *http.Client
}

// SarvamConfig holds configuration for the Sarvam TTS client.
type SarvamConfig struct {
	APIKey     string
	Model      string  // e.g. "bulbul:v3"
	Speaker    string  // e.g. "ishita"
	Language   string  // e.g. "hi-IN"
	SampleRate int     // requested WAV sample rate; 8000 matches telephony
	Pace       float64 // speaking rate multiplier
	BaseURL    string  // override for tests
	HTTPClient *http.Client
}

// NewSarvamClient creates a new Sarvam TTS client.
func NewSarvamClient(cfg SarvamConfig) *SarvamClient {
	model := cfg.Model
	if model == "" {
		model = "bulbul:v3"
	}
	speaker := cfg.Speaker
	if speaker == "" {
		speaker = "ishita"
	}
	language := cfg.Language
	if language == "" {
		language = "hi-IN"
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 8000
	}
	pace := cfg.Pace
	if pace == 0 {
		pace = 1.0
	}
	url := cfg.BaseURL
	if url == "" {
		url = sarvamTTSURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SarvamClient{
		apiKey:     cfg.APIKey,
		model:      model,
		speaker:    speaker,
		language:   language,
		sampleRate: sampleRate,
		pace:       pace,
		url:        url,
		httpClient: httpClient,
	}
}

// ttsRequest represents a Sarvam TTS request.
type ttsRequest struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker"`
	SpeechSampleRate   int      `json:"speech_sample_rate"`
	Pace               float64  `json:"pace"`
	Model              string   `json:"model"`
}

// ttsResponse represents a Sarvam TTS response; audio arrives base64-encoded.
type ttsResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize converts text to speech and returns the decoded WAV bytes.
func (c *SarvamClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	req := ttsRequest{
		Inputs:             []string{text},
		TargetLanguageCode: c.language,
		Speaker:            c.speaker,
		SpeechSampleRate:   c.sampleRate,
		Pace:               c.pace,
		Model:              c.model,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("API-Subscription-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Sarvam TTS error: %s - %s", resp.Status, string(respBody))
	}

	var ttsResp ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ttsResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(ttsResp.Audios) == 0 {
		return nil, fmt.Errorf("no audio in response")
	}

	audio, err := base64.StdEncoding.DecodeString(ttsResp.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	return audio, nil
}
