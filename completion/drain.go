// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package completion

import (
	"time"

	"github.com/go-core-stack/benji/errors"
)

// Drain is a cursor over task completions, in the order tasks finish.
// The usual loop is:
//
//	drain := drv.Completions(timeout)
//	for drain.Next() {
//		res := drain.Result()
//		...
//	}
//	if err := drain.Err(); err != nil {
//		...
//	}
//
// The cursor ends cleanly once the driver's active set is empty. It is
// tied to the driver's live state, Submit calls interleaved with the
// drain extend it.
type Drain[T any] struct {
	drv      *Driver[T]
	timer    *time.Timer
	expired  <-chan time.Time
	res      Result[T]
	err      error
	finished bool
}

// Completions returns a drain over the driver's task outcomes. A timeout
// greater than zero bounds the whole drain pass, measured from this call;
// on expiry Next reports false and Err carries a Timeout error, while
// unfinished handles stay registered and a later Completions call picks
// them up. A timeout of zero means wait indefinitely.
func (d *Driver[T]) Completions(timeout time.Duration) *Drain[T] {
	dr := &Drain[T]{drv: d}
	if timeout > 0 {
		dr.timer = time.NewTimer(timeout)
		// receiving on the nil channel blocks forever, which is exactly
		// the no-timeout behavior
		dr.expired = dr.timer.C
	}
	return dr
}

// Next blocks until a task completes, the drain times out, or the active
// set becomes empty. It reports true when a Result is available. The
// reference to the previously yielded result is dropped before blocking,
// so the buffer it may carry is reclaimable while the drain waits.
func (dr *Drain[T]) Next() bool {
	dr.res = Result[T]{}
	if dr.finished {
		return false
	}

	for {
		dr.drv.mu.Lock()
		remaining := len(dr.drv.active)
		dr.drv.mu.Unlock()
		if remaining == 0 {
			dr.finish(nil)
			return false
		}

		select {
		case h := <-dr.drv.done:
			dr.drv.settle(h)
			if h.state.Load() == stateCancelled {
				// permit was already released at cancellation time and
				// no result is delivered for a cancelled task
				continue
			}
			dr.drv.release()
			dr.res = h.res
			return true
		case <-dr.expired:
			dr.finish(errors.Wrapf(errors.Timeout,
				"completion drain expired with %d tasks outstanding", remaining))
			return false
		}
	}
}

// Result returns the outcome yielded by the last successful Next call.
func (dr *Drain[T]) Result() Result[T] {
	return dr.res
}

// Err returns nil on a clean drain and the timeout fault otherwise.
func (dr *Drain[T]) Err() error {
	return dr.err
}

func (dr *Drain[T]) finish(err error) {
	dr.finished = true
	dr.err = err
	if dr.timer != nil {
		dr.timer.Stop()
	}
}
