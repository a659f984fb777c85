package sync

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy defines the retry behavior for failed operations
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier is the backoff multiplier (e.g., 2.0 for exponential)
	Multiplier float64

	// Jitter in [0, 1] shaves up to that fraction off each delay.
	Jitter float64

	// OnlyRetryableErrors restricts retries to errors ClassifyError marks retryable.
	OnlyRetryableErrors bool

	Logger *zap.Logger

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries transient failures up to maxRetries times.
func DefaultRetryPolicy(maxRetries int, logger *zap.Logger) *RetryPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryPolicy{
		MaxRetries:          maxRetries,
		InitialDelay:        1 * time.Second,
		MaxDelay:            30 * time.Second,
		Multiplier:          2.0,
		Jitter:              0.3,
		OnlyRetryableErrors: true,
		Logger:              logger,
	}
}

// NoRetryPolicy returns a policy that never retries
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		Multiplier:          1.0,
		OnlyRetryableErrors: true,
		Logger:              zap.NewNop(),
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Retry executes fn until it succeeds, the error is not retryable, the
// retries are exhausted, or ctx is done.
func (p *RetryPolicy) Retry(ctx context.Context, operation string, fn RetryableFunc) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	for {
		attempt++

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if !p.shouldRetry(attempt, err) {
			if attempt > 1 {
				logger.Error("operation failed after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Error(err),
				)
				return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
			}
			return err
		}

		delay := p.calculateDelay(attempt)

		logger.Warn("operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := p.wait(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted: %w", err)
		}
	}
}

func (p *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if attempt > p.MaxRetries {
		return false
	}
	if p.OnlyRetryableErrors {
		return IsTransientError(err)
	}
	return true
}

// calculateDelay is InitialDelay * Multiplier^(attempt-1), capped at
// MaxDelay, minus jitter.
func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		delay -= rand.Float64() * delay * p.Jitter
	}

	return time.Duration(delay)
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
