// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-core-stack/benji/errors"
)

type versionKey struct {
	Uid string
}

// countingController records every reconciled key and optionally fails
// or requeues on command.
type countingController struct {
	mu       sync.Mutex
	seen     map[versionKey]int
	failures map[versionKey]int
	requeue  time.Duration
}

func (c *countingController) Reconcile(k any) (*Result, error) {
	key := *(k.(*versionKey))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = map[versionKey]int{}
	}
	c.seen[key]++
	if c.failures[key] > 0 {
		c.failures[key]--
		return nil, errors.New("transient failure")
	}
	if c.requeue != 0 && c.seen[key] == 1 {
		return &Result{RequeueAfter: c.requeue}, nil
	}
	return nil, nil
}

func (c *countingController) count(k versionKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[k]
}

type fakeTable struct {
	ManagerImpl
	existing []any
}

func (t *fakeTable) ReconcilerGetAllKeys() []any {
	return t.existing
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func Test_ManagerReconcilesExistingAndNotified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tbl := &fakeTable{
		existing: []any{&versionKey{Uid: "pre-1"}, &versionKey{Uid: "pre-2"}},
	}
	if err := tbl.Initialize(ctx, tbl); err != nil {
		t.Fatalf("failed to initialize manager: %s", err)
	}

	crtl := &countingController{}
	if err := tbl.Register("cleanup", crtl); err != nil {
		t.Fatalf("failed to register controller: %s", err)
	}
	if err := tbl.Register("cleanup", crtl); err == nil || !errors.IsAlreadyExists(err) {
		t.Fatalf("expected duplicate registration to fail with AlreadyExists, got %v", err)
	}

	// pre-existing entries are enqueued at registration time
	waitFor(t, "existing keys reconciled", func() bool {
		return crtl.count(versionKey{Uid: "pre-1"}) > 0 && crtl.count(versionKey{Uid: "pre-2"}) > 0
	})

	tbl.NotifyCallback(&versionKey{Uid: "new-1"})
	waitFor(t, "notified key reconciled", func() bool {
		return crtl.count(versionKey{Uid: "new-1"}) > 0
	})
}

func Test_PipelineRetriesOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crtl := &countingController{
		failures: map[versionKey]int{{Uid: "flaky"}: 2},
	}
	p := NewPipeline(ctx, crtl.Reconcile)

	if err := p.Enqueue(&versionKey{Uid: "flaky"}); err != nil {
		t.Fatalf("failed to enqueue entry: %s", err)
	}

	// two failures then success means exactly three attempts
	waitFor(t, "failed entry retried", func() bool {
		return crtl.count(versionKey{Uid: "flaky"}) == 3
	})
}

func Test_PipelineRequeueAfter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crtl := &countingController{requeue: 20 * time.Millisecond}
	p := NewPipeline(ctx, crtl.Reconcile)

	if err := p.Enqueue(&versionKey{Uid: "again"}); err != nil {
		t.Fatalf("failed to enqueue entry: %s", err)
	}

	waitFor(t, "entry requeued after delay", func() bool {
		return crtl.count(versionKey{Uid: "again"}) >= 2
	})
}

func Test_PipelineStoppedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	crtl := &countingController{}
	p := NewPipeline(ctx, crtl.Reconcile)
	cancel()

	if err := p.Enqueue(&versionKey{Uid: "late"}); err == nil {
		t.Fatalf("expected enqueue on stopped pipeline to fail")
	}
}
