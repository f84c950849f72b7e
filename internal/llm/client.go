package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Request is one system plus user prompt pair sent to the model
type Request struct {
	// Operation names the calling workflow step, used for logging and metrics
	Operation string
	System    string
	Prompt    string
	Tier      ModelTier
	// Model overrides the tier's configured model when set
	Model string
}

// Client is an abstraction over LLM providers
type Client interface {
	// Complete sends the request and returns the raw text of the first candidate
	Complete(ctx context.Context, req Request) (string, error)
	// ModelFor returns the model name a request would be served by
	ModelFor(req Request) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a new LLM client based on configuration
func NewClient(ctx context.Context, config *Config, apiKey string) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderGemini:
		return NewGeminiClient(ctx, config, apiKey)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Complete runs the prompt pair under the configured timeout
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	modelName := c.ModelFor(req)
	if modelName == "" {
		return "", &TransportError{Message: fmt.Sprintf("no model configured for tier %s", req.Tier)}
	}

	timeout := c.config.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.config.Temperature)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", classify(ctx, err, timeout, "failed to generate content")
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", &TransportError{Message: "unusable response", Cause: err}
	}
	return text, nil
}

// ModelFor returns the model name for a request
func (c *GeminiClient) ModelFor(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.config.GetModel(req.Tier)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}
