package service

import (
	"context"
	"time"
)

// RetryPolicy is a bounded exponential backoff: attempt n waits
// BaseDelay * 2^(n-1) before attempt n+1.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether a failure is transient. Nil retries everything.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, a failure is not retryable, attempts run out
// or ctx is done. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, sleep func(context.Context, time.Duration) error, fn func(context.Context) error) (int, error) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= limit; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == limit {
			break
		}
		if serr := sleep(ctx, p.BaseDelay*time.Duration(1<<(attempt-1))); serr != nil {
			return attempt, serr
		}
	}
	return limit, err
}
