// Package completion runs independent asynchronous tasks under a
// concurrency cap and streams their outcomes back in completion order.
//
// # Overview
//
// A Driver owns a counting-semaphore permit pool and a set of in-flight
// task handles. Producers call Submit, which blocks until a permit is
// free, then starts the task and returns its handle immediately. A single
// consumer walks the driver's Completions cursor, which yields one
// Result per finished task, releases the task's permit so a blocked
// Submit can proceed, and drops its reference to the handle before
// blocking for the next one.
//
// # Faults Are Data
//
// A task fault never terminates the cursor. Each task's error is captured
// into its Result and delivered to the consumer, which decides per-task
// recovery. Only the drain's own timeout surfaces through Err.
//
// # Handle Lifetime
//
// Handles are exclusively owned by the driver's active set from submission
// until their outcome is yielded. The cursor clears its reference to the
// previously yielded result before blocking again; for long jobs moving
// many large block buffers this is a correctness requirement, holding
// every historical buffer until the end of the job is a real leak.
//
// # Cancellation
//
// Cancel releases the task's permit immediately and cancels the task's
// context. The drain silently discards the handle's eventual outcome: a
// cancelled task yields zero results, a non-cancelled task yields exactly
// one, and the permit is released exactly once either way.
//
// # Example Usage
//
//	drv, err := completion.New[[]byte](3)
//	if err != nil {
//		return err
//	}
//	for _, idx := range blocks {
//		_, err := drv.Submit(ctx, func(ctx context.Context) ([]byte, error) {
//			return readBlock(ctx, idx)
//		})
//		if err != nil {
//			return err
//		}
//	}
//	drain := drv.Completions(0)
//	for drain.Next() {
//		res := drain.Result()
//		if res.Err != nil {
//			// per-task recovery decision
//		}
//	}
//	if err := drain.Err(); err != nil {
//		return err
//	}
package completion
