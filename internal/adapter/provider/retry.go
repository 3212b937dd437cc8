package provider

import (
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/vidforge/vidforge/internal/domain"
)

// RetryPolicy caps the exponential backoff applied to every provider call.
// 4xx responses abort immediately; everything else is retried until the
// attempt budget is spent.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	RequestTimeout  time.Duration
}

// DefaultRetryPolicy mirrors the adapter behavioral contract: 3 attempts,
// 1s initial interval doubled each attempt, 30s per-request timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, RequestTimeout: 30 * time.Second}
}

// StatusError carries a provider HTTP status alongside its message so the
// retry loop can distinguish client errors from transient failures.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Code, e.Message)
}

// IsClientError reports whether err is a non-retryable 4xx provider error.
func IsClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// Do runs fn under the policy. Client errors and context cancellation stop
// the loop immediately; on exhaustion the last error is wrapped as an
// external-service failure.
func (p RetryPolicy) Do(ctx domain.Context, op string, fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialInterval
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	attempts := uint64(p.MaxAttempts)
	if attempts == 0 {
		attempts = 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, attempts-1), ctx)

	err := backoff.Retry(func() error {
		if err := fn(); err != nil {
			if IsClientError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bo)
	if err != nil {
		if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
			return fmt.Errorf("op=%s: %w", op, err)
		}
		return fmt.Errorf("op=%s: %w: %w", op, domain.ErrExternal, err)
	}
	return nil
}
