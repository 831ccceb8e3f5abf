package rate

import (
	"context"
	"io"
)

type rlReader struct {
	ctx context.Context
	rc  io.ReadCloser
	lim *Limiter
}

// Read implements io.Reader with rate limiting.
//
// Tokens are acquired for the requested read size (capped at burst) BEFORE
// the read is performed. If the read returns fewer bytes than requested,
// those tokens are still consumed; see the package documentation for the
// over-reservation trade-off.
func (r *rlReader) Read(p []byte) (int, error) {
	// Safe to cast: burst is validated to fit in int during limiter creation
	burstSize := int(r.lim.burst)
	chunk := len(p)
	if chunk > burstSize {
		chunk = burstSize
	}

	// Acquire tokens BEFORE reading to prevent bursts
	if err := r.lim.WaitN(r.ctx, chunk); err != nil {
		return 0, err
	}

	return r.rc.Read(p[:chunk])
}

func (r *rlReader) Close() error {
	r.lim.SetInUse(false)
	return r.rc.Close()
}
