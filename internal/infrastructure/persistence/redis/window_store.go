// Package redis 提供 Redis 缓存和消息队列实现
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/application/admission"
)

// checkAndIncrScript 固定窗口的原子“计数 + 设置过期”。
// 首次计数时以窗口长度设置过期，键过期即窗口重置；
// 返回 {当前计数, 剩余毫秒}，检查-计数在 Redis 侧单线程执行，天然原子。
var checkAndIncrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// WindowStore 多进程共享的固定窗口计数存储。
// 与内存实现语义一致：固定窗口，边界处允许 2 倍突发。
type WindowStore struct {
	client *Client
}

// NewWindowStore 创建 Redis 窗口存储
func NewWindowStore(client *Client) *WindowStore {
	return &WindowStore{client: client}
}

// CheckAndIncr 原子检查并计数一次请求
func (s *WindowStore) CheckAndIncr(ctx context.Context, key string, limit int, window time.Duration) (admission.Slot, error) {
	ctx, span := tracer.Start(ctx, "redis.WindowStore.CheckAndIncr")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
	)
	defer span.End()

	vals, err := checkAndIncrScript.Run(ctx, s.client.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return admission.Slot{}, fmt.Errorf("window check failed: %w", err)
	}
	if len(vals) != 2 {
		return admission.Slot{}, fmt.Errorf("unexpected script result: %v", vals)
	}

	count, ttlMs := vals[0], vals[1]
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}

	slot := admission.Slot{
		Allowed: count <= int64(limit),
		Count:   int(count),
		ResetAt: time.Now().Add(time.Duration(ttlMs) * time.Millisecond),
	}
	span.SetAttributes(
		attribute.Bool("ratelimit.allowed", slot.Allowed),
		attribute.Int("ratelimit.count", slot.Count),
	)
	return slot, nil
}

// Reset 清空窗口计数
func (s *WindowStore) Reset(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "redis.WindowStore.Reset")
	defer span.End()

	if err := s.client.rdb.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("window reset failed: %w", err)
	}
	return nil
}
