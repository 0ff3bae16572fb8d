// Package google implements the llm.Client interface against the Gemini
// API.
package google

import (
	"context"
	"sync"

	"google.golang.org/genai"

	"bsdcoach/pkg/llm"
	"bsdcoach/pkg/llmerrors"
)

// Client talks to the Gemini API. The underlying SDK client is created
// lazily on first use because construction needs a context.
type Client struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// New creates a client for the given model.
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

func (c *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.ErrorTypeAuth, err, "failed to create gemini client")
	}
	c.client = client
	return client, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	if len(in.Messages) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	client, err := c.ensureClient(ctx)
	if err != nil {
		return llm.Response{}, err
	}

	var contents []*genai.Content
	var system string
	for _, msg := range in.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // bounded by caller
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if result == nil || result.Text() == "" {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from gemini")
	}
	return llm.Response{Content: result.Text()}, nil
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string {
	return c.model
}
