package predcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/domain/entity"
)

func TestFingerprint_NormalizesSymptoms(t *testing.T) {
	a := Fingerprint([]string{" Fever", "cough "}, 30, entity.GenderMale, "3 days", entity.SeverityModerate)
	b := Fingerprint([]string{"COUGH", "fever"}, 30, entity.GenderMale, "3 days", entity.SeverityModerate)
	assert.Equal(t, a, b, "order and casing must not change the fingerprint")
	assert.Equal(t, "cough|fever:30:male:3 days:moderate", a)

	c := Fingerprint([]string{"cough", "fever"}, 31, entity.GenderMale, "3 days", entity.SeverityModerate)
	assert.NotEqual(t, a, c, "demographics are part of the key")
}

func predictions(name string) entity.PredictionList {
	return entity.PredictionList{{DiseaseName: name, Confidence: 0.8}}
}

func TestMemoryStore_PutThenGet(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 1000)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp", predictions("Influenza")))

	entry, ok, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Influenza", entry.Predictions[0].DiseaseName)

	_, ok, err = store.Get(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ExpiredEntryIsAbsent(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewMemoryStore(time.Hour, 1000).WithClock(clock)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp", predictions("Influenza")))

	mu.Lock()
	now = now.Add(time.Hour + time.Minute)
	mu.Unlock()

	_, ok, err := store.Get(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, ok, "entry past expires_at must never be served")
	assert.Zero(t, store.Len(), "expired entry is evicted on read")
}

func TestMemoryStore_EvictsOldestWhenFull(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewMemoryStore(24*time.Hour, 3).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, fmt.Sprintf("fp-%d", i), predictions("d")))
		mu.Lock()
		now = now.Add(time.Minute)
		mu.Unlock()
	}

	// 读命中不会刷新淘汰顺序（按创建时间而非访问时间）
	_, ok, err := store.Get(ctx, "fp-0")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Put(ctx, "fp-3", predictions("d")))

	_, ok, _ = store.Get(ctx, "fp-0")
	assert.False(t, ok, "oldest-created entry evicted despite a recent read")
	_, ok, _ = store.Get(ctx, "fp-1")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "fp-3")
	assert.True(t, ok)
	assert.Equal(t, 3, store.Len())
}

func TestMemoryStore_PutSweepsExpiredBeforeEvicting(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	store := NewMemoryStore(time.Hour, 2).WithClock(clock)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", predictions("d")))

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	require.NoError(t, store.Put(ctx, "fresh-1", predictions("d")))
	require.NoError(t, store.Put(ctx, "fresh-2", predictions("d")))

	// 过期条目在清扫中移除，新条目都保留
	_, ok, _ := store.Get(ctx, "fresh-1")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "fresh-2")
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_ConcurrentPuts(t *testing.T) {
	store := NewMemoryStore(24*time.Hour, 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Put(ctx, fmt.Sprintf("fp-%d", i), predictions("d"))
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 10, "capacity bound holds under concurrent puts")
}
