// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package reconciler turns collection change notifications into
// controller callbacks, keeping derived state in step with the
// metadata tables. Controllers register with a table manager and get
// one pipeline each, driven by watch events and an initial pass over
// the existing keys.
package reconciler

import (
	"context"
	"sync"
	"time"
)

// Producers notify faster than controllers reconcile whenever a bulk
// change lands, a backup committing thousands of block rows being the
// common case. The buffer absorbs such bursts so notifiers do not
// block under regular load.
const bufferLength = 1024

// Pipeline queues keys awaiting reconciliation by one controller.
// Notifications for a key already queued are compressed into one, the
// controller reads the latest state when it runs anyway.
type Pipeline struct {
	// closing the context stops the pipeline
	ctx context.Context

	// set of keys currently queued, values carry no meaning
	pending sync.Map

	queue chan any

	// controller function invoked for every queued key
	reconcile reconcilerFunc
}

// Enqueue hands a key to the pipeline for reconciliation. Fails only
// once the pipeline context is closed.
func (p *Pipeline) Enqueue(k any) error {
	if p.ctx.Err() != nil {
		return p.ctx.Err()
	}

	_, loaded := p.pending.LoadOrStore(k, nil)
	if !loaded {
		p.queue <- k
	}
	return nil
}

// run drains the queue, handing each key to the controller. A failed
// reconcile goes to the back of the queue, a result carrying
// RequeueAfter is enqueued again once the duration lapses.
func (p *Pipeline) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case k := <-p.queue:
			// drop the key from the pending set before the
			// controller runs, a change landing mid-reconcile must
			// queue a fresh pass
			p.pending.Delete(k)

			res, err := p.reconcile(k)
			if err != nil {
				_ = p.Enqueue(k)
				continue
			}
			if res != nil && res.RequeueAfter != 0 {
				go func(k1 any) {
					time.Sleep(res.RequeueAfter)
					_ = p.Enqueue(k1)
				}(k)
			}
		}
	}
}

// NewPipeline creates a pipeline feeding the given controller function
// and starts its processing loop.
func NewPipeline(ctx context.Context, fn reconcilerFunc) *Pipeline {
	p := &Pipeline{
		ctx:       ctx,
		queue:     make(chan any, bufferLength),
		reconcile: fn,
	}
	go p.run()
	return p
}
