// Package admission 提供固定窗口准入控制
package admission

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/pkg/metrics"
)

var tracer = otel.Tracer("admission")

// Slot 单次计数结果
type Slot struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// WindowStore 固定窗口计数存储。
// CheckAndIncr 必须按 key 原子执行“检查-计数”，否则并发请求会超额放行。
type WindowStore interface {
	CheckAndIncr(ctx context.Context, key string, limit int, window time.Duration) (Slot, error)
	Reset(ctx context.Context, key string) error
}

// Decision 准入决策
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// RetryAfter 拒绝时距窗口重置的秒数，放行时为 0
	RetryAfter int
}

// Limiter 固定窗口限流器，按 (subject, class) 维度计数。
// 固定窗口在窗口边界允许最多 2 倍突发，这是有意保留的简单性取舍。
type Limiter struct {
	store WindowStore
	cfg   *config.RateLimitConfig
	now   func() time.Time
}

// NewLimiter 创建限流器
func NewLimiter(store WindowStore, cfg *config.RateLimitConfig) *Limiter {
	return &Limiter{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Check 检查并准入一次请求
func (l *Limiter) Check(ctx context.Context, subjectID, class string) (Decision, error) {
	ctx, span := tracer.Start(ctx, "admission.Check")
	span.SetAttributes(
		attribute.String("admission.subject_id", subjectID),
		attribute.String("admission.class", class),
	)
	defer span.End()

	wc := l.cfg.WindowFor(class)
	key := BuildWindowKey(subjectID, class)

	slot, err := l.store.CheckAndIncr(ctx, key, wc.MaxRequests, wc.Window)
	if err != nil {
		span.RecordError(err)
		return Decision{}, err
	}

	d := Decision{
		Allowed: slot.Allowed,
		ResetAt: slot.ResetAt,
	}
	if remaining := wc.MaxRequests - slot.Count; remaining > 0 {
		d.Remaining = remaining
	}
	if !slot.Allowed {
		retryAfter := int(slot.ResetAt.Sub(l.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		d.RetryAfter = retryAfter
		metrics.AdmissionDecisionsTotal.WithLabelValues(class, "rejected").Inc()
	} else {
		metrics.AdmissionDecisionsTotal.WithLabelValues(class, "allowed").Inc()
	}

	span.SetAttributes(
		attribute.Bool("admission.allowed", d.Allowed),
		attribute.Int("admission.remaining", d.Remaining),
	)
	return d, nil
}

// Reset 清空某个键的窗口计数
func (l *Limiter) Reset(ctx context.Context, subjectID, class string) error {
	return l.store.Reset(ctx, BuildWindowKey(subjectID, class))
}

// BuildWindowKey 构建窗口键
func BuildWindowKey(subjectID, class string) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, subjectID)
}
