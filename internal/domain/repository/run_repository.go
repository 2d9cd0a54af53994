// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"ai-diagnosis-api/internal/domain/entity"
)

// RunRepository 诊断运行仓储
type RunRepository interface {
	Create(ctx context.Context, run *entity.DiagnosisRun) error
	GetByID(ctx context.Context, id string) (*entity.DiagnosisRun, error)
	// Update 持久化状态与步骤游标，供崩溃恢复使用
	Update(ctx context.Context, run *entity.DiagnosisRun) error
}
