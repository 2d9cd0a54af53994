// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"ai-diagnosis-api/internal/domain/entity"
)

// UsageRecordRepository 用量流水仓储。
// 流水只追加；时间区间求和用于滚动配额统计。
type UsageRecordRepository interface {
	Create(ctx context.Context, record *entity.UsageRecord) error
	GetTokenUsage(ctx context.Context, subjectID string, startInclusive, endExclusive time.Time) (int64, error)
	// DeleteBySubject 管理员重置用量，仅供运维工具调用
	DeleteBySubject(ctx context.Context, subjectID string) error
}
