package provider

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate combines the two process-wide caps on a provider: a token-bucket
// limiter on outbound request rate and a semaphore bounding simultaneous
// in-flight calls. Both are independent of retry/backoff.
type Gate struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewGate allows requestsPerWindow calls per window and maxInflight
// concurrent calls. Non-positive arguments fall back to permissive defaults.
func NewGate(requestsPerWindow int, window time.Duration, maxInflight int) *Gate {
	if requestsPerWindow <= 0 {
		requestsPerWindow = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxInflight <= 0 {
		maxInflight = 3
	}
	interval := window / time.Duration(requestsPerWindow)
	return &Gate{
		limiter: rate.NewLimiter(rate.Every(interval), requestsPerWindow),
		sem:     semaphore.NewWeighted(int64(maxInflight)),
	}
}

// Acquire blocks until both a rate token and an in-flight slot are
// available, or ctx is done. On success the caller must Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.sem.Release(1)
		return err
	}
	return nil
}

// Release frees the in-flight slot taken by Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}
