package exchange

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds retries and differentiates backoff by failure class:
// rate limits back off exponentially, server errors back off linearly,
// validation errors are surfaced immediately.
type RetryPolicy struct {
	MaxAttempts      int
	RateLimitBase    time.Duration // doubled per rate-limited attempt
	RateLimitMax     time.Duration
	ServerErrorDelay time.Duration // multiplied by attempt number
}

// DefaultRetryPolicy mirrors the operationally tuned defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      4,
		RateLimitBase:    2 * time.Second,
		RateLimitMax:     30 * time.Second,
		ServerErrorDelay: 500 * time.Millisecond,
	}
}

// Backoff returns the delay before retry number attempt (1-based) for err,
// and whether a retry should happen at all.
func (p RetryPolicy) Backoff(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		// Network-level failure with no HTTP status: treat as server error.
		return p.ServerErrorDelay * time.Duration(attempt), true
	}
	switch ae.Class {
	case ClassRateLimited:
		d := p.RateLimitBase << (attempt - 1)
		if d > p.RateLimitMax {
			d = p.RateLimitMax
		}
		return d, true
	case ClassServerError:
		return p.ServerErrorDelay * time.Duration(attempt), true
	default:
		return 0, false
	}
}

// do runs fn under the policy, sleeping between attempts. ctx cancellation
// aborts the wait.
func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		delay, retry := p.Backoff(attempt, err)
		if !retry {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
