package backoff

import (
	"context"
	"time"
)

// Schedule is a fixed, monotonic non-decreasing sequence of delays.
// Attempts past the end of the sequence reuse the last delay, so a
// Schedule bounds the steady-state request rate of an unbounded loop.
type Schedule []time.Duration

// Poll is the delay sequence between job status queries: fast initial
// checks for quick jobs, settling to a steady 10s cadence for long ones.
var Poll = Schedule{
	2500 * time.Millisecond,
	3500 * time.Millisecond,
	5 * time.Second,
	8 * time.Second,
	10 * time.Second,
}

// Delay returns the delay to apply after the given 1-based attempt.
// Attempts beyond the sequence length return the last delay; an empty
// schedule returns zero.
func (s Schedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s) {
		attempt = len(s)
	}
	return s[attempt-1]
}

// reconnectBase and reconnectCap bound the exponential reconnect curve.
const (
	reconnectBase = 1 * time.Second
	reconnectCap  = 30 * time.Second
)

// Exponential returns min(30s, 1s * 2^(attempt-1)) for the given 1-based
// attempt. It is the reconnect delay policy for push subscriptions.
func Exponential(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 1s << 35 would overflow long before the cap matters.
	if attempt > 6 {
		return reconnectCap
	}
	d := reconnectBase << uint(attempt-1)
	if d > reconnectCap {
		return reconnectCap
	}
	return d
}

// Waiter performs cancellable waits. The zero value uses real time;
// tests may substitute After to skip or observe delays.
type Waiter struct {
	// After creates a timer channel. Defaults to time.After.
	After func(d time.Duration) <-chan time.Time
}

// Wait blocks for d or until ctx is done, whichever comes first. When
// ctx wins, the underlying timer is stopped (no leaked timers) and the
// context's error is returned. A context that is already done returns
// immediately without arming a timer.
func (w Waiter) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if w.After != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.After(d):
			return nil
		}
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
