package rate

import (
	"context"
	"io"
)

type rlWriter struct {
	ctx context.Context
	wc  io.WriteCloser
	lim *Limiter
}

// Write implements io.Writer with rate limiting.
//
// Data is written in chunks no larger than the burst size, acquiring tokens
// before each chunk. If a chunk write fails partway through, tokens for the
// full chunk are consumed even though fewer bytes were written. This is the
// same trade-off as in Read, it prioritizes rate limit enforcement over
// byte-level precision.
func (w *rlWriter) Write(p []byte) (int, error) {
	written := 0
	// Safe to cast: burst is validated to fit in int during limiter creation
	burstSize := int(w.lim.burst)
	for written < len(p) {
		remain := len(p) - written
		chunk := remain
		if chunk > burstSize {
			chunk = burstSize
		}
		err := w.lim.WaitN(w.ctx, chunk)
		if err != nil {
			return written, err
		}
		n, err := w.wc.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *rlWriter) Close() error {
	w.lim.SetInUse(false)
	return w.wc.Close()
}
