// Package retry provides a bounded, constant-delay retry wrapper used by
// every portal-facing operation.
package retry

import (
	"context"
	"time"
)

// Do invokes op up to attempts times total, sleeping delay between
// consecutive attempts. The delay never grows. The last error is returned
// once the budget is exhausted. A cancelled context aborts the sleep and
// returns ctx.Err().
func Do[T any](ctx context.Context, attempts int, delay time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}

	return zero, lastErr
}
