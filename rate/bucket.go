package rate

import (
	"context"
	"sync"
	"time"
)

// Bucket is a thread-safe token bucket with advisory waits. Consume never
// sleeps; it returns the duration the caller should wait before issuing
// the next unit of work. Capacity equals the configured rate, so at most
// one second's worth of burst is ever accumulated. A rate of zero means
// limiting is disabled.
type Bucket struct {
	mu     sync.Mutex
	rate   float64
	tokens float64
	last   time.Time
}

// NewBucket returns a bucket with limiting disabled until SetRate is called.
func NewBucket() *Bucket {
	return &Bucket{
		last: time.Now(),
	}
}

// SetRate sets the bucket rate in units per second and resets the budget to
// a full bucket. Safe to call concurrently with Consume, a rate of 0
// disables limiting immediately.
func (b *Bucket) SetRate(perSecond float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = perSecond
	b.tokens = perSecond
}

// Rate returns the currently configured rate in units per second.
func (b *Bucket) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// Consume debits n units from the bucket and returns the recommended wait
// before consuming further. A zero return means the request fits in the
// available budget. The token count may go negative, representing a debt
// that has to be waited out at the current rate; the upper clamp keeps the
// accumulated budget at no more than one second's worth.
//
// Consume(0) is a valid probe, it performs refill accounting without
// debiting the budget.
func (b *Bucket) Consume(n int64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rate == 0 {
		return 0
	}

	now := time.Now()
	lapse := now.Sub(b.last)
	b.last = now
	b.tokens += lapse.Seconds() * b.rate

	if b.tokens > b.rate {
		b.tokens = b.rate
	}

	b.tokens -= float64(n)

	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(-b.tokens / b.rate * float64(time.Second))
}

// Take is the caller-side throttle step: consume n units and sleep out the
// recommended wait, honoring context cancellation. Producers call this once
// before submitting each unit of work.
func (b *Bucket) Take(ctx context.Context, n int64) error {
	wait := b.Consume(n)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
