package admission

import (
	"context"
	"sync"
	"time"

	"ai-diagnosis-api/pkg/logger"
)

// window 单个键的固定窗口
type window struct {
	count int
	start time.Time
	span  time.Duration
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.start) >= w.span
}

// MemoryWindowStore 进程内窗口存储。
// 窗口在首次请求时惰性创建，过期窗口由周期清扫回收。
// 多进程部署需改用 Redis 后端以保持计数可见性。
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryWindowStore 创建内存窗口存储
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock 注入时钟，测试用
func (s *MemoryWindowStore) WithClock(now func() time.Time) *MemoryWindowStore {
	s.now = now
	return s
}

// CheckAndIncr 原子执行检查并计数
func (s *MemoryWindowStore) CheckAndIncr(_ context.Context, key string, limit int, span time.Duration) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || w.expired(now) {
		w = &window{count: 1, start: now, span: span}
		s.windows[key] = w
		return Slot{Allowed: true, Count: 1, ResetAt: now.Add(span)}, nil
	}

	resetAt := w.start.Add(w.span)
	if w.count < limit {
		w.count++
		return Slot{Allowed: true, Count: w.count, ResetAt: resetAt}, nil
	}
	return Slot{Allowed: false, Count: w.count, ResetAt: resetAt}, nil
}

// Reset 删除窗口
func (s *MemoryWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep 回收已过期的窗口，返回回收数量
func (s *MemoryWindowStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		if w.expired(now) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper 启动周期清扫，ctx 取消后退出
func (s *MemoryWindowStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					logger.Debug(ctx, "swept expired rate windows", "removed", removed)
				}
			}
		}
	}()
}

// Len 当前窗口数量，测试用
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
