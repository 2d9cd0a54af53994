// Package quota 提供基于用量流水的 Token 配额能力
package quota

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/repository"
	"ai-diagnosis-api/pkg/errors"
	"ai-diagnosis-api/pkg/metrics"
)

var tracer = otel.Tracer("quota")

// Snapshot 当前用量快照，便于客户端展示
type Snapshot struct {
	DailyUsed    int64 `json:"daily_used"`
	DailyLimit   int64 `json:"daily_limit"`
	MonthlyUsed  int64 `json:"monthly_used"`
	MonthlyLimit int64 `json:"monthly_limit"`
}

// Verdict 配额检查结论
type Verdict struct {
	Allowed  bool
	Reason   errors.QuotaLimitType
	Snapshot Snapshot
}

// Tracker 配额跟踪器。
// 三条独立上限：单次请求、滚动日、滚动月；日/月用量每次从流水重新计算，
// 因此进程重启不丢计数，检查本身不修改任何状态。
type Tracker struct {
	usageRepo repository.UsageRecordRepository
	cfg       *config.QuotaConfig
	now       func() time.Time
}

// NewTracker 创建配额跟踪器
func NewTracker(usageRepo repository.UsageRecordRepository, cfg *config.QuotaConfig) *Tracker {
	return &Tracker{
		usageRepo: usageRepo,
		cfg:       cfg,
		now:       time.Now,
	}
}

// CanSpend 检查主体是否还有足够配额执行一次预估消耗。
// 只读；并发下允许少量竞态，以流水为最终依据。
func (t *Tracker) CanSpend(ctx context.Context, subjectID string, estimatedTokens int64) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "quota.CanSpend")
	span.SetAttributes(
		attribute.String("quota.subject_id", subjectID),
		attribute.Int64("quota.estimated_tokens", estimatedTokens),
	)
	defer span.End()

	v := Verdict{Allowed: true}
	v.Snapshot.DailyLimit = t.cfg.MaxTokensPerDay
	v.Snapshot.MonthlyLimit = t.cfg.MaxTokensPerMonth

	if t.cfg.MaxTokensPerRequest > 0 && estimatedTokens > t.cfg.MaxTokensPerRequest {
		v.Allowed = false
		v.Reason = errors.QuotaLimitPerRequest
		metrics.QuotaRejectionsTotal.WithLabelValues(string(v.Reason)).Inc()
		return v, nil
	}

	now := t.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(time.Second)

	dailyUsed, err := t.usageRepo.GetTokenUsage(ctx, subjectID, dayStart, end)
	if err != nil {
		span.RecordError(err)
		return Verdict{}, err
	}
	v.Snapshot.DailyUsed = dailyUsed

	monthlyUsed, err := t.usageRepo.GetTokenUsage(ctx, subjectID, monthStart, end)
	if err != nil {
		span.RecordError(err)
		return Verdict{}, err
	}
	v.Snapshot.MonthlyUsed = monthlyUsed

	switch {
	case t.cfg.MaxTokensPerDay > 0 && dailyUsed+estimatedTokens > t.cfg.MaxTokensPerDay:
		v.Allowed = false
		v.Reason = errors.QuotaLimitDaily
	case t.cfg.MaxTokensPerMonth > 0 && monthlyUsed+estimatedTokens > t.cfg.MaxTokensPerMonth:
		v.Allowed = false
		v.Reason = errors.QuotaLimitMonthly
	}

	if !v.Allowed {
		metrics.QuotaRejectionsTotal.WithLabelValues(string(v.Reason)).Inc()
	}
	span.SetAttributes(attribute.Bool("quota.allowed", v.Allowed))
	return v, nil
}

// RecordSpend 追加一条用量流水。
// 追加之间无顺序要求；后续 CanSpend 立即可见。
func (t *Tracker) RecordSpend(ctx context.Context, record *entity.UsageRecord) error {
	ctx, span := tracer.Start(ctx, "quota.RecordSpend")
	span.SetAttributes(
		attribute.String("quota.subject_id", record.SubjectID),
		attribute.Int64("quota.tokens_used", record.TokensUsed),
	)
	defer span.End()

	if err := t.usageRepo.Create(ctx, record); err != nil {
		span.RecordError(err)
		return err
	}

	metrics.LLMTokensUsed.WithLabelValues(record.Model, "total").Add(float64(record.TokensUsed))
	metrics.LLMCostTotal.WithLabelValues(record.Model).Add(record.Cost)
	return nil
}

// Usage 返回主体当前的滚动日/月用量快照
func (t *Tracker) Usage(ctx context.Context, subjectID string) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "quota.Usage")
	span.SetAttributes(attribute.String("quota.subject_id", subjectID))
	defer span.End()

	snap := Snapshot{
		DailyLimit:   t.cfg.MaxTokensPerDay,
		MonthlyLimit: t.cfg.MaxTokensPerMonth,
	}

	now := t.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(time.Second)

	var err error
	if snap.DailyUsed, err = t.usageRepo.GetTokenUsage(ctx, subjectID, dayStart, end); err != nil {
		span.RecordError(err)
		return Snapshot{}, err
	}
	if snap.MonthlyUsed, err = t.usageRepo.GetTokenUsage(ctx, subjectID, monthStart, end); err != nil {
		span.RecordError(err)
		return Snapshot{}, err
	}
	return snap, nil
}

// Limit 返回指定类型的配额上限
func (t *Tracker) Limit(limitType errors.QuotaLimitType) int64 {
	switch limitType {
	case errors.QuotaLimitMonthly:
		return t.cfg.MaxTokensPerMonth
	case errors.QuotaLimitPerRequest:
		return t.cfg.MaxTokensPerRequest
	default:
		return t.cfg.MaxTokensPerDay
	}
}
