// Package retry provides the single shared retry helper used by every
// adapter: "one retry on categorized transient failure / malformed JSON"
// (spec §4.1.2, §4.1.3, §4.2). It is grounded on the teacher's
// ai/providers/base.go ExecuteWithRetry, generalized to any adapter call
// (not just raw HTTP) and backed by a real backoff library instead of the
// teacher's hand-rolled exponential delay loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryableError marks an error as eligible for another attempt. Adapters
// wrap transient failures (timeouts, malformed JSON) with Wrap; anything
// else aborts immediately without burning the retry budget.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Wrap marks err as retryable. A nil err returns nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func isRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Do calls fn up to attempts times (attempts=2 means "one retry"), only
// retrying when fn's error was wrapped with Wrap. It returns the first
// success, or the last error once retries are exhausted or fn returns a
// non-retryable error.
func Do[T any](ctx context.Context, attempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	op := func() (T, error) {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) {
			// backoff.Permanent stops the retry loop immediately while
			// still surfacing the original error to the caller.
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
}
