package gen

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Executor performs a single generation attempt. A returned error is always a
// transient fault worth retrying; terminal outcomes arrive as failed envelopes
// with a nil error.
type Executor interface {
	Execute(ctx context.Context, spec RequestSpec) (ResponseEnvelope, error)
}

// RetryController wraps an Executor in a bounded exponential-backoff loop and
// produces exactly one final envelope. The delay before attempt n+1 is
// base * 2^n. No jitter: callers of one controller are serialized anyway.
type RetryController struct {
	exec       Executor
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewRetryController builds a controller allowing maxRetries retries beyond
// the first attempt.
func NewRetryController(exec Executor, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *RetryController {
	return &RetryController{
		exec:       exec,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// Run drives the attempt loop. RetryCount on the returned envelope is the
// number of attempts consumed beyond the first, so a first-try success reports
// 0 and full exhaustion reports maxRetries.
func (c *RetryController) Run(ctx context.Context, spec RequestSpec) ResponseEnvelope {
	attempts := 0
	var lastErr error

	for n := 0; n <= c.maxRetries; n++ {
		if n > 0 {
			delay := c.baseDelay * (1 << (n - 1))
			c.logger.Debug("backing off before retry",
				slog.Int("attempt", n+1),
				slog.Duration("delay", delay))
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		attempts = n

		envelope, err := c.exec.Execute(ctx, spec)
		if err == nil {
			envelope.RetryCount = n
			return envelope
		}
		lastErr = err
		c.logger.Warn("attempt failed",
			slog.Int("attempt", n+1),
			slog.Int("max_attempts", c.maxRetries+1),
			slog.Any("error", err))
	}

	return ResponseEnvelope{
		Success:    false,
		Failure:    FailureExhausted,
		Error:      fmt.Sprintf("request failed after %d attempts, last error: %v", attempts+1, lastErr),
		RetryCount: attempts,
	}
}

// sleepContext waits for the duration unless the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
