// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"ai-diagnosis-api/internal/domain/entity"
)

// UsageRecordRepository 用量流水仓储实现
type UsageRecordRepository struct {
	client *Client
}

// NewUsageRecordRepository 创建用量流水仓储
func NewUsageRecordRepository(client *Client) *UsageRecordRepository {
	return &UsageRecordRepository{client: client}
}

func (r *UsageRecordRepository) Create(ctx context.Context, record *entity.UsageRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

func (r *UsageRecordRepository) GetTokenUsage(ctx context.Context, subjectID string, startInclusive, endExclusive time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.GetTokenUsage")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var total int64
	if err := db.Model(&entity.UsageRecord{}).
		Where("subject_id = ? AND created_at >= ? AND created_at < ?", subjectID, startInclusive, endExclusive).
		Select("COALESCE(SUM(tokens_used),0)").
		Scan(&total).Error; err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to get token usage: %w", err)
	}
	return total, nil
}

func (r *UsageRecordRepository) DeleteBySubject(ctx context.Context, subjectID string) error {
	ctx, span := tracer.Start(ctx, "postgres.UsageRecordRepository.DeleteBySubject")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Where("subject_id = ?", subjectID).Delete(&entity.UsageRecord{}).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete usage records: %w", err)
	}
	return nil
}
