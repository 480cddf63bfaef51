package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements StreamingClient on the Google GenAI SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:      apiKey,
		Model:       "gemini-2.5-flash",
		Temperature: 0.1,
	}
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey: config.APIKey,
	}
	if config.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: float32(config.Temperature),
	}, nil
}

func (c *GeminiClient) generateConfig(contextInfo string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if contextInfo != "" {
		cfg.SystemInstruction = genai.NewContentFromText(contextInfo, genai.RoleUser)
	}
	return cfg
}

// Ask sends a question and returns the full text response.
func (c *GeminiClient) Ask(ctx context.Context, question string) (string, error) {
	return c.AskWithContext(ctx, question, "")
}

// AskWithContext sends a question with a system-style context string.
func (c *GeminiClient) AskWithContext(ctx context.Context, question, contextInfo string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(question), c.generateConfig(contextInfo))
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(text), nil
}

// AskStreaming streams the response as content chunks.
func (c *GeminiClient) AskStreaming(ctx context.Context, question, contextInfo string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model,
			genai.Text(question), c.generateConfig(contextInfo)) {
			if err != nil {
				errorChan <- fmt.Errorf("GenAI stream failed: %w", err)
				return
			}
			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			select {
			case contentChan <- chunk:
			case <-ctx.Done():
				errorChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errorChan
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}
