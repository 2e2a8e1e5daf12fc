// Package retry runs fallible operations with bounded geometric backoff.
package retry

import (
	"context"
	"time"
)

// Policy bounds a retry loop. Attempt n (0-based) that fails waits
// 2^n * BaseDelay before the next attempt; once n exceeds MaxRetries the
// last error is returned.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries everything.
	Retryable func(err error) bool
}

// Backoff returns the wait after the failed attempt at depth.
func (p Policy) Backoff(depth int) time.Duration {
	if depth > 30 {
		depth = 30
	}
	return p.BaseDelay * time.Duration(uint64(1)<<uint(depth))
}

// Do calls op until it succeeds, the policy is exhausted, a non-retryable
// error is returned, or ctx is done. The context error wins over the op error
// when cancellation interrupts a wait.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	for depth := 0; ; depth++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if depth > p.MaxRetries {
			return err
		}

		timer := time.NewTimer(p.Backoff(depth))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Value is Do for operations producing a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
