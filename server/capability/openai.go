package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cyclopcam/www"
)

const DefaultOpenAIBaseURL = "https://api.openai.com/v1"
const DefaultOpenAIModel = "gpt-4.1-mini"

// OpenAIClient talks to any server that implements the OpenAI chat completions API
// (OpenAI itself, vLLM, llama.cpp, Ollama, ...).
type OpenAIClient struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

func NewOpenAIClient(baseUrl, apiKey, model string) *OpenAIClient {
	if baseUrl == "" {
		baseUrl = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIClient{
		BaseURL:   strings.TrimSuffix(baseUrl, "/"),
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: 20,
	}
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []chatContentPart
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the instruction, followed by the image, and returns the model's reply
func (c *OpenAIClient) Classify(ctx context.Context, jpeg []byte, instruction string) (string, error) {
	dataUrl := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
	body := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "user", Content: instruction},
			{Role: "user", Content: []chatContentPart{{Type: "image_url", ImageURL: &chatImageURL{URL: dataUrl}}}},
		},
		Temperature: 0,
		MaxTokens:   c.MaxTokens,
	}
	raw, err := json.Marshal(&body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp := chatResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return "", fmt.Errorf("Chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("Chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
