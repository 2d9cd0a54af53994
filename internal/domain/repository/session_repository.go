// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"ai-diagnosis-api/internal/domain/entity"
)

// SessionRepository 诊断会话仓储
type SessionRepository interface {
	Create(ctx context.Context, session *entity.DiagnosisSession) error
	GetByID(ctx context.Context, id string) (*entity.DiagnosisSession, error)
	// Exists 仅检查会话是否存在，供编排第一步使用
	Exists(ctx context.Context, id string) (bool, error)
	// PersistPredictions 写入预测结果并推进会话状态
	PersistPredictions(ctx context.Context, id string, predictions entity.PredictionList) error
	MarkStatus(ctx context.Context, id string, status entity.SessionStatus) error
}
