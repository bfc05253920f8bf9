// Package utils provides small generic helpers shared by the engine and
// its broker adapters: retry-with-backoff and request batching.
package utils

import (
	"fmt"
	"time"
)

// RetryConfig contains retry configuration for a single outbound broker RPC.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns conservative defaults for a TransientRPC retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry retries a function with exponential backoff.
func Retry[T any](config RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	var err error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}

		if attempt == config.MaxAttempts {
			break
		}

		time.Sleep(delay)
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return result, fmt.Errorf("after %d attempts: %w", config.MaxAttempts, err)
}

// BatchProcess splits items into batches of at most batchSize and applies fn
// to each batch in turn, concatenating the results. Used by the engine's
// refresh step to respect the broker's per-request ticker limit.
func BatchProcess[T any, R any](items []T, batchSize int, fn func([]T) ([]R, error)) ([]R, error) {
	var results []R

	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}

		batch := items[i:end]
		batchResults, err := fn(batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d failed: %w", i, end, err)
		}

		results = append(results, batchResults...)
	}

	return results, nil
}
