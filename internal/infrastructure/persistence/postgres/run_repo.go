// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"gorm.io/gorm"

	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

// RunRepository 诊断运行仓储实现
type RunRepository struct {
	client *Client
}

// NewRunRepository 创建运行仓储
func NewRunRepository(client *Client) *RunRepository {
	return &RunRepository{client: client}
}

func (r *RunRepository) Create(ctx context.Context, run *entity.DiagnosisRun) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create diagnosis run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*entity.DiagnosisRun, error) {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var run entity.DiagnosisRun
	if err := db.First(&run, "id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrRunNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get diagnosis run: %w", err)
	}
	return &run, nil
}

func (r *RunRepository) Update(ctx context.Context, run *entity.DiagnosisRun) error {
	ctx, span := tracer.Start(ctx, "postgres.RunRepository.Update")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Save(run).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update diagnosis run: %w", err)
	}
	return nil
}
