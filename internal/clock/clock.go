// Package clock provides the injectable sleep used by the agent's blocking
// waits (sampling window, retry backoff, cycle interval).
package clock

import (
	"context"
	"time"
)

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder is a SleepFunc that returns immediately and remembers every
// requested duration.
type Recorder struct {
	Slept []time.Duration
}

// Sleep records d and returns ctx.Err().
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Slept = append(r.Slept, d)
	return ctx.Err()
}
