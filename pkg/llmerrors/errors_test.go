package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRecognizesCommonPatterns(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{errors.New("got 429 too many requests"), ErrorTypeRateLimit},
		{errors.New("invalid api key"), ErrorTypeAuth},
		{errors.New("503 service unavailable"), ErrorTypeTransient},
		{errors.New("connection reset by peer"), ErrorTypeTransient},
		{errors.New("prompt too large"), ErrorTypeBadPrompt},
		{errors.New("something odd"), ErrorTypeUnknown},
		{context.DeadlineExceeded, ErrorTypeTransient},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err).Type, "error %v", c.err)
	}
}

func TestClassifyPassesThroughClassifiedErrors(t *testing.T) {
	orig := New(ErrorTypeEmptyResponse, "no content")
	wrapped := fmt.Errorf("call failed: %w", orig)
	assert.Same(t, orig, Classify(wrapped))
}

func TestRetryability(t *testing.T) {
	assert.True(t, New(ErrorTypeRateLimit, "").IsRetryable())
	assert.True(t, New(ErrorTypeEmptyResponse, "").IsRetryable())
	assert.False(t, New(ErrorTypeAuth, "").IsRetryable())
	assert.False(t, New(ErrorTypeBadPrompt, "").IsRetryable())
}

func TestFromStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeRateLimit, FromStatus(429, "").Type)
	assert.Equal(t, ErrorTypeAuth, FromStatus(401, "").Type)
	assert.Equal(t, ErrorTypeTransient, FromStatus(502, "").Type)
	assert.Equal(t, ErrorTypeBadPrompt, FromStatus(422, "").Type)
}

func TestTypeOfUnwrapsNestedErrors(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrorTypeRateLimit, "slow down"))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))
	assert.True(t, Is(err, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}
