// Package redis 提供 Redis 缓存和消息队列实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/application/predcache"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/metrics"
)

const (
	predictionKeyPrefix = "predcache:entry:"
	predictionIndexKey  = "predcache:index"
)

// PredictionStore 多进程共享的预测缓存存储。
// 条目用带 TTL 的独立键保存，另以创建时间为分值维护一个 ZSET 索引，
// 用于“最旧创建优先”的容量淘汰；TTL 过期由 Redis 处理，索引惰性清理。
type PredictionStore struct {
	client     *Client
	ttl        time.Duration
	maxEntries int
}

// NewPredictionStore 创建 Redis 预测缓存
func NewPredictionStore(client *Client, ttl time.Duration, maxEntries int) *PredictionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &PredictionStore{client: client, ttl: ttl, maxEntries: maxEntries}
}

// Get 查询缓存条目
func (s *PredictionStore) Get(ctx context.Context, fingerprint string) (*predcache.Entry, bool, error) {
	ctx, span := tracer.Start(ctx, "redis.PredictionStore.Get")
	span.SetAttributes(attribute.String("predcache.fingerprint", fingerprint))
	defer span.End()

	raw, err := s.client.rdb.Get(ctx, predictionKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err == redis.Nil {
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
			span.SetAttributes(attribute.Bool("predcache.hit", false))
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("prediction cache get failed: %w", err)
	}

	var entry predcache.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("prediction cache decode failed: %w", err)
	}

	// TTL 到期由 Redis 负责，这里再校验一次以防时钟偏差
	if time.Now().After(entry.ExpiresAt) {
		s.client.rdb.Del(ctx, predictionKeyPrefix+fingerprint)
		s.client.rdb.ZRem(ctx, predictionIndexKey, fingerprint)
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		metrics.CacheEvictionsTotal.WithLabelValues("ttl").Inc()
		return nil, false, nil
	}

	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	span.SetAttributes(attribute.Bool("predcache.hit", true))
	return &entry, true, nil
}

// Put 写入缓存条目并做容量淘汰
func (s *PredictionStore) Put(ctx context.Context, fingerprint string, predictions entity.PredictionList) error {
	ctx, span := tracer.Start(ctx, "redis.PredictionStore.Put")
	span.SetAttributes(attribute.String("predcache.fingerprint", fingerprint))
	defer span.End()

	now := time.Now()
	entry := predcache.Entry{
		Fingerprint: fingerprint,
		Predictions: predictions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("prediction cache encode failed: %w", err)
	}

	// 先清理索引里已到 TTL 的成员，对应的条目键已由 Redis 过期
	expiredBefore := float64(now.Add(-s.ttl).UnixMilli())
	s.client.rdb.ZRemRangeByScore(ctx, predictionIndexKey, "0", fmt.Sprintf("%f", expiredBefore))

	pipe := s.client.rdb.Pipeline()
	pipe.Set(ctx, predictionKeyPrefix+fingerprint, raw, s.ttl)
	pipe.ZAdd(ctx, predictionIndexKey, redis.Z{Score: float64(now.UnixMilli()), Member: fingerprint})
	cardCmd := pipe.ZCard(ctx, predictionIndexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("prediction cache put failed: %w", err)
	}

	// 容量淘汰：按创建时间最旧优先
	if over := cardCmd.Val() - int64(s.maxEntries); over > 0 {
		oldest, err := s.client.rdb.ZRange(ctx, predictionIndexKey, 0, over-1).Result()
		if err != nil {
			span.RecordError(err)
			return nil
		}
		if len(oldest) > 0 {
			keys := make([]string, 0, len(oldest))
			for _, fp := range oldest {
				keys = append(keys, predictionKeyPrefix+fp)
			}
			evict := s.client.rdb.Pipeline()
			evict.Del(ctx, keys...)
			evict.ZRem(ctx, predictionIndexKey, toAnySlice(oldest)...)
			if _, err := evict.Exec(ctx); err != nil {
				span.RecordError(err)
				return nil
			}
			metrics.CacheEvictionsTotal.WithLabelValues("capacity").Add(float64(len(oldest)))
		}
	}
	return nil
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
