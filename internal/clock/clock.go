// Package clock drives archive rotation: an interruptible wait made of
// fixed checkpoints, each observable by cancellation.
package clock

import (
	"context"
	"time"
)

// Checkpoint is the production step between cancellation checks.
const Checkpoint = time.Second

// Cancelled is the non-blocking check.
func Cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// Wait blocks for n checkpoints of length step and reports whether the whole
// interval elapsed. It returns false as soon as ctx is cancelled, so callers
// never act on a partial interval. n below one is treated as one.
func Wait(ctx context.Context, n int, step time.Duration) bool {
	if n < 1 {
		n = 1
	}
	timer := time.NewTimer(step)
	defer timer.Stop()
	for i := 0; i < n; i++ {
		if i > 0 {
			timer.Reset(step)
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	return !Cancelled(ctx)
}
