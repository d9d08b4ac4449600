// Package backoff provides fixed delay schedules and cancellable waits
// for polling loops and reconnecting subscriptions.
//
// Unlike a generic retry helper, a Schedule is a deliberate, explicit
// sequence: the caller owns the loop and asks only "how long until the
// next attempt". This keeps retry policy reviewable as data.
//
// Usage:
//
//	var w backoff.Waiter
//	for attempt := 1; ; attempt++ {
//	    if done := check(); done {
//	        break
//	    }
//	    if err := w.Wait(ctx, backoff.Poll.Delay(attempt)); err != nil {
//	        return err // cancelled
//	    }
//	}
package backoff
