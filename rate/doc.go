// Package rate provides the two throttling primitives used by backup and
// restore jobs: an advisory token bucket for job-level throughput and a
// limit manager for storage-stream bandwidth.
//
// # Overview
//
// A job has two independent throttling knobs. The Bucket caps aggregate
// job throughput (bytes or operations per second) across all producers of
// a job; the LimitManager caps the bandwidth of individual storage streams
// (uploads and downloads against the data backend) while redistributing
// unused capacity among the streams that are actually moving data.
//
// # Advisory Bucket
//
// The Bucket never sleeps. Consume debits the requested amount and returns
// the duration the caller should wait before submitting further work; the
// decision to actually sleep stays with the caller (Take is the standard
// context-aware helper for that). This keeps the critical section O(1) and
// decouples rate accounting from thread-blocking policy. A single Bucket
// is shared by all producers of one job, enforcing one aggregate rate, not
// a per-producer share.
//
// # Rate Limiting Strategy
//
// The stream wrappers use PRE-OPERATION rate limiting, meaning tokens are
// acquired BEFORE performing I/O operations. Operations are slowed down
// before they execute, so a burst of large block writes cannot overshoot
// the configured bandwidth before accounting catches up.
//
// # Token Over-Reservation Trade-off
//
// When an I/O operation returns fewer bytes than requested (partial
// read/write), the tokens for the full request are still consumed. This is
// intentional: it prevents gaming the limiter with small requests and keeps
// the implementation simple, at the cost of occasionally consuming slightly
// more tokens than bytes actually transferred.
//
// # Dynamic Capacity Rebalancing
//
// The LimitManager automatically redistributes available capacity among
// active streams:
//
//   - When a stream becomes active, it receives a share of the total capacity
//   - When a stream goes idle, its capacity is redistributed to others
//   - Capacity is allocated proportionally based on configured rates
//
// # Example Usage
//
//	// Job-level throttle: 80 MiB/s aggregate
//	bucket := rate.NewBucket()
//	bucket.SetRate(80 * 1024 * 1024)
//
//	// Before submitting each block operation
//	if err := bucket.Take(ctx, blockSize); err != nil {
//		return err
//	}
//
//	// Storage bandwidth: 32 MiB/s shared by upload and download streams
//	mgr := rate.NewLimitManager(32 * 1024 * 1024)
//	up, _ := mgr.NewLimiter("upload", 16*1024*1024, 1024*1024)
//	_ = up
//
//	limited, _ := mgr.WrapWriter(ctx, "upload", objectWriter)
//	defer limited.Close()
package rate
