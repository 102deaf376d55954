package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// RetryPolicy bounds retries of network-class provider errors.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetry is used by every HTTP call the engine makes.
var DefaultRetry = RetryPolicy{
	Attempts: 3,
	Initial:  500 * time.Millisecond,
	Max:      5 * time.Second,
}

// retryStatuses are transient HTTP statuses.
var retryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Backoff returns the wait before retry number attempt (0-based): Initial
// doubled per attempt, capped at Max.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Initial
	for range attempt {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return d
}

// Retryable reports whether err is worth another attempt: a provider error
// with a transient status, or a transport failure. Process failures and
// everything else fail at once.
func Retryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode != 0 {
		return slices.Contains(retryStatuses, pe.StatusCode)
	}
	return pe.transport
}

// WithRetry calls fn under DefaultRetry.
func WithRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return Retry(ctx, DefaultRetry, fn)
}

// Retry calls fn until it succeeds, fails with a non-retryable error, or the
// policy's attempts are used up. The last error is returned unwrapped so
// callers still see the provider error.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(p.Attempts, 1)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn()
		if err == nil || !Retryable(err) || attempt == attempts-1 {
			return v, err
		}

		t := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}

// WithStreamRetry retries opening the stream only; once chunks have been
// delivered a failure is returned as is. It returns the accumulated reply.
func WithStreamRetry(ctx context.Context, open func() (*http.Response, error), delta DeltaFunc, onChunk func(string)) (string, error) {
	resp, err := WithRetry(ctx, open)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	sse := NewSSEReader(resp.Body, delta)
	if err := sse.Each(ctx, onChunk); err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return sse.Reply(), err
		}
		return sse.Reply(), fmt.Errorf("failed to process stream: %w", err)
	}
	return sse.Reply(), nil
}
