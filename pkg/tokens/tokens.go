// Package tokens provides token counting for prompt budget enforcement.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with a GPT-4 codec. All supported providers
// tokenize close enough to GPT-4 for budget purposes.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a counter. The model argument is accepted for future
// per-model codecs; today everything maps to the GPT-4 encoding.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the token count of text. Falls back to a four-characters-
// per-token estimate if the codec fails.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// WithinLimit reports whether text fits the given token budget.
func (c *Counter) WithinLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}
