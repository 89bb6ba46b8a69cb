package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstAttemptSucceeds(t *testing.T) {
	result, health, err := Call(context.Background(), 1, 5000,
		func(ctx context.Context, streamEnabled bool) (string, error) {
			assert.True(t, streamEnabled)
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, health.Attempts)
	assert.False(t, health.FallbackUsed)
}

func TestRetriesThenFallback(t *testing.T) {
	var calls []bool
	result, health, err := Call(context.Background(), 1, 5000,
		func(ctx context.Context, streamEnabled bool) (string, error) {
			calls = append(calls, streamEnabled)
			if streamEnabled {
				return "", errors.New("stream broke")
			}
			return "fallback answer", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result)
	// retryCount+1 streamed attempts, then one non-streamed.
	assert.Equal(t, []bool{true, true, false}, calls)
	assert.True(t, health.FallbackUsed)
	assert.Equal(t, 3, health.Attempts)
	assert.Contains(t, health.LastError, "stream broke")
}

func TestAllAttemptsFail(t *testing.T) {
	_, health, err := Call(context.Background(), 0, 5000,
		func(ctx context.Context, streamEnabled bool) (int, error) {
			return 0, errors.New("dead provider")
		})
	require.Error(t, err)
	assert.Equal(t, 2, health.Attempts)
	assert.True(t, health.FallbackUsed)
}

func TestTimeoutRejectsAttemptOnly(t *testing.T) {
	start := time.Now()
	result, _, err := Call(context.Background(), 0, 100,
		func(ctx context.Context, streamEnabled bool) (string, error) {
			if streamEnabled {
				<-ctx.Done() // hang until the per-attempt timeout fires
				return "", ctx.Err()
			}
			return "recovered", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestThrottlerCoalescesBursts(t *testing.T) {
	var mu sync.Mutex
	renders := 0
	th := NewThrottler(10, func() { // 100ms interval
		mu.Lock()
		renders++
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		th.Request()
	}
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	count := renders
	mu.Unlock()
	assert.GreaterOrEqual(t, count, 1)
	assert.LessOrEqual(t, count, 4, "burst must coalesce")
	assert.Greater(t, th.ThrottledRenders(), 0)
}

func TestForceFlushRendersPending(t *testing.T) {
	var mu sync.Mutex
	renders := 0
	th := NewThrottler(1, func() { // 1s interval: pending unless flushed
		mu.Lock()
		renders++
		mu.Unlock()
	})

	th.Request() // immediate
	th.Request() // pending
	th.ForceFlush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, renders)
}
