// Package stream provides the retry-with-timeout streaming wrapper around
// provider calls and the render throttler used while streaming.
package stream

import (
	"context"
	"fmt"
	"time"

	"milo/internal/logging"
)

// Health reports what the recovery wrapper did for diagnostics.
type Health struct {
	Attempts         int    `json:"attempts"`
	TimeoutMS        int    `json:"timeout_ms"`
	FallbackUsed     bool   `json:"fallback_used"`
	ThrottledRenders int    `json:"throttled_renders"`
	LastError        string `json:"last_error,omitempty"`
}

// RunFunc performs one provider attempt; streamEnabled selects streaming or
// plain completion.
type RunFunc[T any] func(ctx context.Context, streamEnabled bool) (T, error)

// Call runs a streamed attempt up to retryCount+1 times, each bounded by
// timeoutMS; if all fail it makes one non-streaming attempt under the same
// timeout. A timeout rejects the pending attempt only.
func Call[T any](ctx context.Context, retryCount, timeoutMS int, run RunFunc[T]) (T, Health, error) {
	logger := logging.NewComponentLogger("StreamRecovery")
	health := Health{TimeoutMS: timeoutMS}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= retryCount; attempt++ {
		health.Attempts++
		result, err := runWithTimeout(ctx, timeoutMS, true, run)
		if err == nil {
			return result, health, nil
		}
		lastErr = err
		health.LastError = err.Error()
		logger.Warn("stream attempt %d/%d failed: %v", attempt+1, retryCount+1, err)
	}

	// All streamed attempts exhausted; one non-streaming fallback.
	health.FallbackUsed = true
	health.Attempts++
	result, err := runWithTimeout(ctx, timeoutMS, false, run)
	if err == nil {
		return result, health, nil
	}
	health.LastError = err.Error()
	if lastErr == nil {
		lastErr = err
	}
	return zero, health, fmt.Errorf("provider call failed after %d attempts: %w", health.Attempts, err)
}

// runWithTimeout bounds one attempt. The attempt goroutine keeps running
// until its context expires; only the result is abandoned.
func runWithTimeout[T any](ctx context.Context, timeoutMS int, streamEnabled bool, run RunFunc[T]) (T, error) {
	var zero T
	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeoutMS > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := run(attemptCtx, streamEnabled)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		return zero, fmt.Errorf("attempt timed out after %dms: %w", timeoutMS, attemptCtx.Err())
	}
}
