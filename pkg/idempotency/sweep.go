package idempotency

import (
	"context"
	"time"
)

// RunSweeper purges expired records on a fixed interval until ctx is done.
// Sweep failures are logged and the loop continues; the sweeper is safe to
// run alongside live traffic because it only deletes expired rows.
func (guard *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = guard.Sweep(ctx)
		}
	}
}
