package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bsdcoach/pkg/llmerrors"
)

// Retry returns a middleware that retries failed completions. The backoff
// schedule comes from the classified error type; unclassified errors get
// the unknown-type schedule. Context cancellation is never retried.
func Retry() Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req Request) (Response, error) {
				var lastErr error
				for attempt := 1; ; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return Response{}, err
					}
					cfg := retryConfigFor(err)
					if attempt > cfg.MaxRetries {
						break
					}
					delay := backoffDelay(cfg, attempt)
					select {
					case <-ctx.Done():
						return Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
					case <-time.After(delay):
					}
				}
				return Response{}, lastErr
			},
			next.ModelName,
		)
	}
}

func retryConfigFor(err error) llmerrors.RetryConfig {
	var le *llmerrors.Error
	if errors.As(err, &le) {
		if !le.IsRetryable() {
			return llmerrors.RetryConfig{}
		}
		return le.RetryConfig()
	}
	return llmerrors.New(llmerrors.ErrorTypeUnknown, "").RetryConfig()
}

func backoffDelay(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/5 + 1)) //nolint:gosec // jitter, not crypto
	}
	return delay
}

// Timeout returns a middleware that bounds every completion with its own
// deadline.
func Timeout(d time.Duration) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req Request) (Response, error) {
				tctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return next.Complete(tctx, req)
			},
			next.ModelName,
		)
	}
}
