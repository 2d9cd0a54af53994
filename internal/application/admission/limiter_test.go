package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/config"
)

func testRateLimitConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		General:   config.WindowConfig{Window: time.Minute, MaxRequests: 60},
		Diagnosis: config.WindowConfig{Window: time.Hour, MaxRequests: 10},
		Emergency: config.WindowConfig{Window: time.Minute, MaxRequests: 3},
	}
}

func TestLimiter_AllowsUpToMax(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := limiter.Check(ctx, "subject-1", "diagnosis")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 10-(i+1), d.Remaining)
	}

	d, err := limiter.Check(ctx, "subject-1", "diagnosis")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "11th request should be rejected")
	assert.Zero(t, d.Remaining)
	assert.Positive(t, d.RetryAfter)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), testRateLimitConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "subject-1", "emergency")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := limiter.Check(ctx, "subject-1", "emergency")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "emergency class exhausted")

	// 其他主体与其他类别不受影响
	d, err = limiter.Check(ctx, "subject-2", "emergency")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Check(ctx, "subject-1", "diagnosis")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_WindowResets(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewMemoryWindowStore().WithClock(clock)
	limiter := NewLimiter(store, testRateLimitConfig())
	limiter.now = clock
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "s", "emergency")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := limiter.Check(ctx, "s", "emergency")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// 跨过窗口边界后重新放行
	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()

	d, err = limiter.Check(ctx, "s", "emergency")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestLimiter_ConcurrentChecksNeverOverAdmit(t *testing.T) {
	limiter := NewLimiter(NewMemoryWindowStore(), testRateLimitConfig())
	ctx := context.Background()

	const workers = 50
	var admitted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Check(ctx, "subject-1", "diagnosis")
			require.NoError(t, err)
			if d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted.Load(), "admissions must never exceed the window max")
}

func TestMemoryWindowStore_SweepRemovesExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewMemoryWindowStore().WithClock(clock)
	ctx := context.Background()

	_, err := store.CheckAndIncr(ctx, "a", 5, time.Minute)
	require.NoError(t, err)
	_, err = store.CheckAndIncr(ctx, "b", 5, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	assert.Equal(t, 1, store.Sweep(), "only the minute window expired")
	assert.Equal(t, 1, store.Len())
}
