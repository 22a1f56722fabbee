package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const maxBackoffDelay = 30 * time.Second

// Policy parameterizes Retry for one call site: bounded attempts, an
// exponentially growing delay, and a classifier for which failures are
// worth another try. Context errors are never retried.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64

	// Retryable reports whether an error is transient. nil retries
	// everything except context cancellation.
	Retryable func(error) bool

	// Fallback runs once after all attempts are exhausted; the last
	// failure is still returned to the caller.
	Fallback func(context.Context)
}

// Retry invokes op up to p.MaxAttempts times, sleeping between attempts.
// name appears in the per-attempt warnings.
func Retry(ctx context.Context, name string, p Policy, logger *zap.Logger, op func(context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(p, lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := backoffDelay(p, attempt)
		logger.Warn("retry_attempt_failed",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("next_delay", delay),
			zap.Error(lastErr))
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
	}

	logger.Warn("retry_exhausted",
		zap.String("op", name), zap.Int("attempts", attempts), zap.Error(lastErr))
	if p.Fallback != nil {
		p.Fallback(ctx)
	}
	return lastErr
}

func retryable(p Policy, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func backoffDelay(p Policy, attempt int) time.Duration {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
		if delay >= maxBackoffDelay {
			return maxBackoffDelay
		}
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
