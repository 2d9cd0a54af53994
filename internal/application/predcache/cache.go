package predcache

import (
	"context"
	"sync"
	"time"

	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/metrics"
)

// Entry 缓存条目。条目整体替换，不做原地修改。
type Entry struct {
	Fingerprint string                `json:"fingerprint"`
	Predictions entity.PredictionList `json:"predictions"`
	CreatedAt   time.Time             `json:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
}

// Store 预测缓存存储。
// 单进程默认用内存实现；多进程部署可换 Redis 后端共享命中。
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Put(ctx context.Context, fingerprint string, predictions entity.PredictionList) error
}

// MemoryStore 进程内缓存实现。
// 淘汰策略是“按创建时间最旧优先”而非真正的 LRU：读命中不会刷新条目的
// 存活顺序，一个频繁命中的条目依然可能因容量淘汰被移除。
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore 创建内存缓存
func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// WithClock 注入时钟，测试用
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Get 查询缓存；过期条目在读取时顺手淘汰
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if s.now().After(entry.ExpiresAt) {
		delete(s.entries, fingerprint)
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		metrics.CacheEvictionsTotal.WithLabelValues("ttl").Inc()
		return nil, false, nil
	}

	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return entry, true, nil
}

// Put 写入缓存。
// 先清扫过期条目，仍达到容量上限时按创建时间最旧优先淘汰，最后整体替换写入。
// 清扫-淘汰-写入是一个临界区，避免并发写对着过期的条目数做淘汰。
func (s *MemoryStore) Put(_ context.Context, fingerprint string, predictions entity.PredictionList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// 清扫过期条目
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
			metrics.CacheEvictionsTotal.WithLabelValues("ttl").Inc()
		}
	}

	// 容量淘汰：最旧创建的先走
	for len(s.entries) >= s.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for key, entry := range s.entries {
			if oldestKey == "" || entry.CreatedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.CreatedAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.entries, oldestKey)
		metrics.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}

	s.entries[fingerprint] = &Entry{
		Fingerprint: fingerprint,
		Predictions: predictions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	return nil
}

// Len 当前条目数，测试用
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
