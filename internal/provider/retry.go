package provider

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy is a reusable retry-with-backoff policy: base delay doubles
// per attempt up to a cap, and only errors whose class is retryable get
// another attempt. Total calls = MaxRetries + 1.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy mirrors the provider defaults: 3 retries, 1s base, 30s cap.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Do runs fn until it succeeds, returns a fatal error, or the attempt
// ceiling is reached. It sleeps between attempts and respects context
// cancellation during the sleep.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		cls := Classify(lastErr)
		if !cls.Retryable() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		wait := p.backoff(attempt)
		logger.Warn("provider.call.retry",
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"class", cls,
			"backoff_ms", wait.Milliseconds(),
			"error", lastErr,
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	wait := base * (1 << uint(attempt))
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
