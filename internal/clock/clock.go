// Package clock provides the two notions of time a test run needs: a
// logical sequence counter that orders captured samples, and a Sleeper
// that implements dwell and settle delays.
//
// Samples are ordered by seq, never by wall-clock timestamps, so a run
// against the simulated bench produces identical records every time.
package clock

import "sync/atomic"

// Clock is a monotonic logical clock.
//
// Thread-safety: Clock is safe for concurrent use, although a run only
// ever calls Next from the orchestrating goroutine.
type Clock struct {
	seq atomic.Int64
}

// New creates a clock starting at 0. The first call to Next returns 1.
func New() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}
