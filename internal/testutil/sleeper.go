package testutil

import (
	"context"
	"fmt"
	"time"
)

// FakeSleeper records requested waits instead of performing them.
//
// Set FailAt to make the Nth call (1-based) return an error, simulating a
// run cancelled mid-dwell.
type FakeSleeper struct {
	Durations []time.Duration
	FailAt    int
}

// Sleep records d and returns immediately.
func (s *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.Durations = append(s.Durations, d)
	if s.FailAt > 0 && len(s.Durations) == s.FailAt {
		return fmt.Errorf("sleep %d: %w", len(s.Durations), context.Canceled)
	}
	return ctx.Err()
}

// Calls returns the number of Sleep calls.
func (s *FakeSleeper) Calls() int {
	return len(s.Durations)
}

// Total returns the sum of all requested waits.
func (s *FakeSleeper) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Durations {
		total += d
	}
	return total
}
