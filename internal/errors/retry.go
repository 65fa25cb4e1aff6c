package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for retryable network operations.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns sensible default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// Retry executes a function with exponential backoff retry logic.
// It retries up to MaxRetries times if the function returns an error.
// The delay between retries grows exponentially, capped at MaxDelay.
// If the context is cancelled, it returns the context error immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err

			// An error explicitly marked non-retryable will not improve
			// with backoff.
			if ee := AsEngineError(err); ee != nil && !ee.Retryable {
				return err
			}

			if attempt >= cfg.MaxRetries {
				break
			}

			waitDelay := delay
			if cfg.Jitter {
				// delay * (0.5 + rand(0, 0.5))
				jitterFactor := 0.5 + rand.Float64()*0.5
				waitDelay = time.Duration(float64(delay) * jitterFactor)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDelay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// RetryWithResult executes a function that returns a value with retry logic.
// Similar to Retry but for functions that return both a result and an error.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err != nil {
			lastErr = err

			if ee := AsEngineError(err); ee != nil && !ee.Retryable {
				return result, err
			}

			if attempt >= cfg.MaxRetries {
				break
			}

			waitDelay := delay
			if cfg.Jitter {
				jitterFactor := 0.5 + rand.Float64()*0.5
				waitDelay = time.Duration(float64(delay) * jitterFactor)
			}

			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(waitDelay):
			}

			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}

		return result, nil
	}

	var zero T
	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
