// Package llm defines the provider-neutral language model client interface
// and the middleware chain the coach engine talks through. Provider
// implementations live in subpackages.
package llm

import (
	"context"
)

// Role tags a message in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request is a completion request.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response is a completion response.
type Response struct {
	Content string
}

// Client is the minimal surface the engine needs from a provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	// ModelName identifies the configured model, for logs and metrics.
	ModelName() string
}

// NewRequest builds a request with the package defaults.
func NewRequest(messages []Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   1024,
		Temperature: 0.7,
	}
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
