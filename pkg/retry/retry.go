package retry

import (
	"context"
	"errors"
	"time"
)

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not retryable: Do returns the underlying error
// immediately instead of burning the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Strategy is a bounded exponential backoff policy.
type Strategy struct {
	Attempts int           // total attempts, including the first
	Delay    time.Duration // delay before the second attempt
	Backoff  float64       // multiplier applied after each attempt
}

// DefaultStrategy matches the consumer processing policy: 3 attempts,
// 1s initial delay, doubling.
func DefaultStrategy() Strategy {
	return Strategy{
		Attempts: 3,
		Delay:    time.Second,
		Backoff:  2,
	}
}

// Do runs fn until it succeeds, attempts are exhausted, fn returns a
// permanent error, or the context is cancelled. The last error is
// returned on failure.
func Do(ctx context.Context, strategy Strategy, fn func() error) error {
	if strategy.Attempts <= 0 {
		strategy.Attempts = 1
	}
	if strategy.Backoff <= 0 {
		strategy.Backoff = 1
	}

	delay := strategy.Delay
	var lastErr error

	for attempt := 1; attempt <= strategy.Attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == strategy.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * strategy.Backoff)
	}

	return lastErr
}
