// Package anthropic implements the llm.Client interface against the Claude
// Messages API.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"bsdcoach/pkg/llm"
	"bsdcoach/pkg/llmerrors"
)

// Client talks to Anthropic's Messages API.
type Client struct {
	client sdk.Client
	model  sdk.Model
}

// New creates a client for the given model.
func New(apiKey, model string) *Client {
	return &Client{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  sdk.Model(model),
	}
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	params := sdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(in.MaxTokens),
	}
	if in.Temperature > 0 {
		params.Temperature = sdk.Float(float64(in.Temperature))
	}

	for _, msg := range in.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			// The Messages API carries the system prompt out of band.
			params.System = append(params.System, sdk.TextBlockParam{Text: msg.Content})
		case llm.RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from messages API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "response contained no text blocks")
	}
	return llm.Response{Content: text}, nil
}

// ModelName implements llm.Client.
func (c *Client) ModelName() string {
	return string(c.model)
}
