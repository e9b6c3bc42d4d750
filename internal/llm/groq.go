package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"

// GroqClient implements the Client interface using Groq's OpenAI-compatible
// chat completions API.
type GroqClient struct {
	apiKey       string
	model        string
	systemPrompt string
	maxTokens    int
	url          string
	httpClient   *http.Client
}

// GroqConfig holds configuration for the Groq client.
type GroqConfig struct {
	APIKey       string
	Model        string // e.g. "llama-3.3-70b-versatile"
	SystemPrompt string // Optional custom system prompt
	MaxTokens    int    // cap per reply; phone answers should stay short
	BaseURL      string // override for tests
	HTTPClient   *http.Client
}

// NewGroqClient creates a new Groq client.
func NewGroqClient(cfg GroqConfig) *GroqClient {
	model := cfg.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SystemPromptHindi
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 100
	}
	url := cfg.BaseURL
	if url == "" {
		url = groqAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GroqClient{
		apiKey:       cfg.APIKey,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		url:          url,
		httpClient:   httpClient,
	}
}

// SetSystemPrompt sets a custom system prompt for this client.
func (c *GroqClient) SetSystemPrompt(prompt string) {
	if prompt != "" {
		c.systemPrompt = prompt
	}
}

// chatRequest represents an OpenAI-style chat completion request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents a chat completion (or stream delta) response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// GenerateResponse generates a response based on the conversation.
func (c *GroqClient) GenerateResponse(ctx context.Context, messages []Message) (<-chan string, error) {
	chatMsgs := []chatMessage{
		{Role: "system", Content: c.systemPrompt},
	}
	for _, m := range messages {
		chatMsgs = append(chatMsgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	req := chatRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Stream:      true,
		Temperature: 0.5,
		MaxTokens:   c.maxTokens,
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
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("Groq API error: %s - %s", resp.Status, string(respBody))
	}

	ch := make(chan string, 100)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var streamResp chatResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				continue
			}

			if len(streamResp.Choices) > 0 {
				content := streamResp.Choices[0].Delta.Content
				if content != "" {
					select {
					case <-ctx.Done():
						return
					case ch <- content:
					}
				}
			}
		}
	}()

	return ch, nil
}
