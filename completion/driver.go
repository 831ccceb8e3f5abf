// Copyright © 2025-2026 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package completion

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/go-core-stack/benji/errors"
)

// TaskFunc is one asynchronous operation. It must honor ctx cancellation
// if the task is expected to stop early on Handle.Cancel.
type TaskFunc[T any] func(ctx context.Context) (T, error)

// Result is the tagged outcome of one task: a produced value or a
// captured fault, never both meaningfully set.
type Result[T any] struct {
	Value T
	Err   error
}

// handle lifecycle states
const (
	stateRunning int32 = iota
	stateCancelled
	stateDone
)

// Handle represents one in-flight task. It is owned by the driver's
// active set from submission until its outcome is yielded by a drain.
type Handle[T any] struct {
	drv    *Driver[T]
	cancel context.CancelFunc
	state  atomic.Int32

	// written once by the task goroutine, read by the drain after the
	// completion-channel handoff
	res Result[T]
}

// Cancel cancels the task's context and releases its permit immediately.
// The drain will silently discard the task's eventual outcome, so a
// cancelled task yields zero results. Cancelling an already finished or
// already cancelled handle is a no-op.
func (h *Handle[T]) Cancel() {
	if h.state.CompareAndSwap(stateRunning, stateCancelled) {
		h.cancel()
		h.drv.release()
	}
}

// Driver admits tasks under a fixed concurrency limit and hands their
// outcomes to a Completions drain as they finish. Submit may be called
// from any number of producer goroutines; a single consumer is expected
// to walk the drain.
type Driver[T any] struct {
	permits chan struct{} // counting semaphore, capacity = concurrency limit
	done    chan *Handle[T]

	mu     sync.Mutex
	active map[*Handle[T]]struct{}
}

// New creates a driver allowing at most limit tasks in flight.
func New[T any](limit int) (*Driver[T], error) {
	if limit < 1 {
		return nil, errors.Wrapf(errors.InvalidArgument, "concurrency limit must be >= 1, got %d", limit)
	}
	return &Driver[T]{
		permits: make(chan struct{}, limit),
		done:    make(chan *Handle[T], limit),
		active:  make(map[*Handle[T]]struct{}),
	}, nil
}

// Submit blocks until a permit is available, registers the task's handle
// in the active set and starts it. It returns right after registration
// without waiting for the task to finish. The task runs under a context
// derived from ctx, so cancelling ctx cancels outstanding tasks too.
func (d *Driver[T]) Submit(ctx context.Context, fn TaskFunc[T]) (*Handle[T], error) {
	select {
	case d.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{
		drv:    d,
		cancel: cancel,
	}

	d.mu.Lock()
	d.active[h] = struct{}{}
	d.mu.Unlock()

	go func() {
		defer cancel()
		v, err := fn(tctx)
		h.res = Result[T]{Value: v, Err: err}
		// a concurrent Cancel wins the race here, in which case the
		// result is discarded by the drain
		h.state.CompareAndSwap(stateRunning, stateDone)
		d.done <- h
	}()

	return h, nil
}

// Active returns the number of handles currently registered with the
// driver, including cancelled tasks that have not finished yet.
func (d *Driver[T]) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// settle removes a completed handle from the active set. A handle being
// settled twice means the internal accounting is broken, fail loudly
// rather than silently corrupt the permit pool.
func (d *Driver[T]) settle(h *Handle[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[h]; !ok {
		log.Panicln("completion: handle settled twice")
	}
	delete(d.active, h)
}

// release returns one permit to the pool, panicking on over-release as
// that indicates a broken internal invariant.
func (d *Driver[T]) release() {
	select {
	case <-d.permits:
	default:
		log.Panicln("completion: permit released without a matching acquire")
	}
}
