package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Client wraps the Gemini API for single-shot text generation.
type Client struct {
	apiKey string
	model  string
	client *genai.Client
}

// Completion is the text of a response plus its billed token usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := newGenAI(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &Client{apiKey: apiKey, model: model, client: client}, nil
}

func newGenAI(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// WithAPIKey returns a client bound to key. An empty key returns the receiver.
func (c *Client) WithAPIKey(ctx context.Context, key string) (*Client, error) {
	if key == "" || key == c.apiKey {
		return c, nil
	}
	client, err := newGenAI(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Client{apiKey: key, model: c.model, client: client}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Complete generates a response for prompt under the given system instruction.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (Completion, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return Completion{}, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Completion{}, fmt.Errorf("empty response content")
	}

	out := Completion{Text: text}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
