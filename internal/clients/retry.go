package clients

import (
	"context"
	"time"
)

// SingleRetry implements the retry pattern from spec §9: start call; if it
// hasn't returned within delay, start a second call in parallel; return
// whichever succeeds first. If both fail, return the second's error. Use
// only for idempotent remote RPCs.
func SingleRetry[T any](ctx context.Context, delay time.Duration, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	first := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		first <- result{v, err}
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case r := <-first:
		return r.val, r.err
	case <-timer.C:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	second := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		second <- result{v, err}
	}()

	select {
	case r1 := <-first:
		if r1.err == nil {
			return r1.val, nil
		}
		r2 := <-second
		return r2.val, r2.err
	case r2 := <-second:
		if r2.err == nil {
			return r2.val, nil
		}
		r1 := <-first
		if r1.err == nil {
			return r1.val, nil
		}
		return r2.val, r2.err
	}
}
