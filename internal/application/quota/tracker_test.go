package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

// fakeUsageRepo 内存流水，按时间区间求和
type fakeUsageRepo struct {
	mu      sync.Mutex
	records []*entity.UsageRecord
}

func (r *fakeUsageRepo) Create(_ context.Context, record *entity.UsageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeUsageRepo) GetTokenUsage(_ context.Context, subjectID string, start, end time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, rec := range r.records {
		if rec.SubjectID != subjectID {
			continue
		}
		if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
			continue
		}
		total += rec.TokensUsed
	}
	return total, nil
}

func (r *fakeUsageRepo) DeleteBySubject(_ context.Context, subjectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.SubjectID != subjectID {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

func testQuotaConfig() *config.QuotaConfig {
	return &config.QuotaConfig{
		MaxTokensPerRequest:    4000,
		MaxTokensPerDay:        10000,
		MaxTokensPerMonth:      50000,
		CostPer1KTokens:        0.002,
		CharsPerToken:          4,
		PromptOverheadTokens:   500,
		ExpectedResponseTokens: 800,
	}
}

func TestTracker_PerRequestCeiling(t *testing.T) {
	tracker := NewTracker(&fakeUsageRepo{}, testQuotaConfig())

	v, err := tracker.CanSpend(context.Background(), "s", 4001)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, errors.QuotaLimitPerRequest, v.Reason)

	v, err = tracker.CanSpend(context.Background(), "s", 4000)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestTracker_DailyCeiling(t *testing.T) {
	repo := &fakeUsageRepo{}
	tracker := NewTracker(repo, testQuotaConfig())
	ctx := context.Background()

	// 今日已用 9000
	require.NoError(t, repo.Create(ctx, &entity.UsageRecord{SubjectID: "s", TokensUsed: 9000}))

	v, err := tracker.CanSpend(ctx, "s", 1001)
	require.NoError(t, err)
	assert.False(t, v.Allowed, "9000 + 1001 > 10000")
	assert.Equal(t, errors.QuotaLimitDaily, v.Reason)
	assert.Equal(t, int64(9000), v.Snapshot.DailyUsed)

	v, err = tracker.CanSpend(ctx, "s", 1000)
	require.NoError(t, err)
	assert.True(t, v.Allowed, "9000 + 1000 == 10000 is still within the limit")
}

func TestTracker_MonthlyCeilingIgnoresOldDays(t *testing.T) {
	repo := &fakeUsageRepo{}
	cfg := testQuotaConfig()
	cfg.MaxTokensPerDay = 0 // 关闭日限，单测月限
	tracker := NewTracker(repo, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	// 上月的记录不计入
	repo.records = append(repo.records, &entity.UsageRecord{
		SubjectID: "s", TokensUsed: 49000, CreatedAt: monthStart.Add(-time.Hour),
	})
	// 本月已用 49000
	repo.records = append(repo.records, &entity.UsageRecord{
		SubjectID: "s", TokensUsed: 49000, CreatedAt: monthStart.Add(time.Minute),
	})

	v, err := tracker.CanSpend(ctx, "s", 1001)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, errors.QuotaLimitMonthly, v.Reason)
	assert.Equal(t, int64(49000), v.Snapshot.MonthlyUsed)
}

func TestTracker_RecordSpendIsImmediatelyVisible(t *testing.T) {
	repo := &fakeUsageRepo{}
	tracker := NewTracker(repo, testQuotaConfig())
	ctx := context.Background()

	v, err := tracker.CanSpend(ctx, "s", 4000)
	require.NoError(t, err)
	require.True(t, v.Allowed)

	require.NoError(t, tracker.RecordSpend(ctx, &entity.UsageRecord{
		SubjectID: "s", TokensUsed: 7000, Model: "gpt-4o-mini", Endpoint: "diagnosis", Success: true,
	}))

	v, err = tracker.CanSpend(ctx, "s", 4000)
	require.NoError(t, err)
	assert.False(t, v.Allowed, "7000 + 4000 > 10000")
	assert.Equal(t, int64(7000), v.Snapshot.DailyUsed)
}

func TestTracker_SubjectsIsolated(t *testing.T) {
	repo := &fakeUsageRepo{}
	tracker := NewTracker(repo, testQuotaConfig())
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, &entity.UsageRecord{SubjectID: "a", TokensUsed: 10000}))

	v, err := tracker.CanSpend(ctx, "b", 4000)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Zero(t, v.Snapshot.DailyUsed)
}

func TestTracker_UsageSnapshot(t *testing.T) {
	repo := &fakeUsageRepo{}
	cfg := testQuotaConfig()
	tracker := NewTracker(repo, cfg)
	ctx := context.Background()

	require.NoError(t, tracker.RecordSpend(ctx, &entity.UsageRecord{SubjectID: "s", TokensUsed: 1200}))
	require.NoError(t, tracker.RecordSpend(ctx, &entity.UsageRecord{SubjectID: "s", TokensUsed: 300}))

	snap, err := tracker.Usage(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), snap.DailyUsed)
	assert.Equal(t, int64(1500), snap.MonthlyUsed)
	assert.Equal(t, cfg.MaxTokensPerDay, snap.DailyLimit)
	assert.Equal(t, cfg.MaxTokensPerMonth, snap.MonthlyLimit)
}

func TestEstimator(t *testing.T) {
	e := NewEstimator(testQuotaConfig())

	// 400 字符 / 4 + 500 + 800
	assert.Equal(t, int64(1400), e.EstimateTokens(string(make([]byte, 400))))
	// 空输入仍有固定开销
	assert.Equal(t, int64(1300), e.EstimateTokens(""))

	assert.InDelta(t, 0.003, e.Cost(1500), 1e-9)
	assert.Zero(t, e.Cost(0))
}
