package compaction

import (
	"context"

	"github.com/cockroachdb/tokenbucket"
)

// RateLimiter paces the bytes a background compaction goroutine may
// read/write per second, so compaction does not starve foreground
// read/write latency. Built on `cockroachdb/tokenbucket`, used here
// for the same I/O-pacing role it serves inside pebble's own
// compaction path.
type RateLimiter struct {
	tb *tokenbucket.TokenBucket
}

// NewRateLimiter returns a limiter allowing bytesPerSecond sustained
// throughput with a one-second burst allowance. A non-positive rate
// means unlimited (NewRateLimiter returns nil, and WaitN on a nil
// *RateLimiter is a no-op).
func NewRateLimiter(bytesPerSecond float64) *RateLimiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	tb := &tokenbucket.TokenBucket{}
	tb.Init(tokenbucket.Rate(bytesPerSecond), tokenbucket.Burst(bytesPerSecond))
	return &RateLimiter{tb: tb}
}

// WaitN blocks until n bytes' worth of I/O is permitted under the
// configured rate. A nil receiver never blocks.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil || n <= 0 {
		return nil
	}
	return r.tb.Wait(ctx, tokenbucket.Tokens(n))
}
