// Package llmerrors classifies errors from language model providers so the
// client middleware can decide what to retry and how.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorType categorizes a provider error for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit covers 429 and quota responses.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx, timeouts, and dropped connections.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse covers a successful call with no content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth covers 401/403 and bad API keys. Never retried.
	ErrorTypeAuth
	// ErrorTypeBadPrompt covers malformed or rejected requests. Never retried.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// RetryConfig defines the backoff schedule for one error type.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

//nolint:gochecknoglobals // package defaults
var defaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeRateLimit:     {MaxRetries: 6, InitialDelay: time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeTransient:     {MaxRetries: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeEmptyResponse: {MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeAuth:          {BackoffFactor: 1.0},
	ErrorTypeBadPrompt:     {BackoffFactor: 1.0},
	ErrorTypeUnknown:       {MaxRetries: 1, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0, Jitter: true},
}

// Error is a classified provider error.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("llm error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("llm error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether this error is worth retrying. Everything is
// retryable unless explicitly not.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// RetryConfig returns the backoff schedule for this error's type.
func (e *Error) RetryConfig() RetryConfig {
	if c, ok := defaultRetryConfigs[e.Type]; ok {
		return c
	}
	return defaultRetryConfigs[ErrorTypeUnknown]
}

// Is reports whether err carries the given classified type.
func Is(err error, errorType ErrorType) bool {
	var le *Error
	return errors.As(err, &le) && le.Type == errorType
}

// TypeOf returns err's classified type, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var le *Error
	if errors.As(err, &le) {
		return le.Type
	}
	return ErrorTypeUnknown
}

// New creates a classified error with a message.
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// Classify maps an arbitrary provider error to a classified one. Already
// classified errors pass through. SDKs rarely expose status codes
// directly, so the fallback is string-pattern matching on the message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(ErrorTypeTransient, err, "request cancelled or timed out")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate") || strings.Contains(msg, "quota"):
		return Wrap(ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return Wrap(ErrorTypeAuth, err, "authentication error")
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "reset"):
		return Wrap(ErrorTypeTransient, err, "network or server error")
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "malformed") || strings.Contains(msg, "too large"):
		return Wrap(ErrorTypeBadPrompt, err, "request rejected")
	default:
		return Wrap(ErrorTypeUnknown, err, "unclassified provider error")
	}
}

// FromStatus classifies an HTTP status code from a provider.
func FromStatus(statusCode int, message string) *Error {
	var t ErrorType
	switch {
	case statusCode == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		t = ErrorTypeAuth
	case statusCode >= 500:
		t = ErrorTypeTransient
	case statusCode >= 400:
		t = ErrorTypeBadPrompt
	default:
		t = ErrorTypeUnknown
	}
	return &Error{Type: t, StatusCode: statusCode, Message: message}
}
