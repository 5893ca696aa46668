package capability

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient asks a Gemini model through the Google Gen AI SDK
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
	}, nil
}

func (g *GeminiClient) Classify(ctx context.Context, jpeg []byte, instruction string) (string, error) {
	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(instruction),
		genai.NewPartFromBytes(jpeg, "image/jpeg"),
	}, genai.RoleUser)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0)),
		MaxOutputTokens: int32(20),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{content}, config)
	if err != nil {
		return "", fmt.Errorf("Failed to generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
