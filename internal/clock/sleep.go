package clock

import (
	"context"
	"time"
)

// Sleeper suspends the run for a fixed duration.
// Dwell delays in the sweep engine and the startup poll interval both go
// through a Sleeper so tests can count waits instead of performing them.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper waits on the wall clock. A cancelled context ends the wait
// early and returns the context error.
type RealSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
