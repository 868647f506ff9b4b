package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries failed requests with exponential backoff and
// jitter. Only retryable failures (rate limits, server errors, network
// trouble, timeouts) are retried; bad requests and auth failures surface
// immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, Usage, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		response, usage, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, usage, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil || !retryable(err) {
			break
		}
		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}

	return "", Usage{}, fmt.Errorf("request failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// retryable treats classified ProviderErrors per their type and anything
// unclassified as retryable, since unclassified errors are typically
// transport-level.
func retryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}
	return true
}

// delay computes exponential backoff with +/-25% jitter, capped at
// maxDelay.
func (r *retryLLM) delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := time.Duration(float64(r.baseDelay) * float64(int64(1)<<uint(attempt)))

	jitter := time.Duration(rand.Float64() * float64(d) * 0.5)
	d = d + jitter - d/4

	if d > r.maxDelay {
		d = r.maxDelay
	}
	return d
}

func (r *retryLLM) GetModel() string  { return r.next.GetModel() }
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
