package remote

import (
	"context"
	"time"
)

// ExponentialDelay returns the delay before the given retry attempt:
// min(base * 2^(attempt-1), max)
func ExponentialDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// past this the shift overflows, and we are long past max anyway
	if attempt > 30 {
		return max
	}
	return min(base*time.Duration(1<<(attempt-1)), max)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
