// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

// SessionRepository 诊断会话仓储实现
type SessionRepository struct {
	client *Client
}

// NewSessionRepository 创建会话仓储
func NewSessionRepository(client *Client) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) Create(ctx context.Context, session *entity.DiagnosisSession) error {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(session).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create diagnosis session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entity.DiagnosisSession, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var session entity.DiagnosisSession
	if err := db.First(&session, "id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get diagnosis session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) Exists(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.Exists")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var count int64
	if err := db.Model(&entity.DiagnosisSession{}).Where("id = ?", id).Count(&count).Error; err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return count > 0, nil
}

func (r *SessionRepository) PersistPredictions(ctx context.Context, id string, predictions entity.PredictionList) error {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.PersistPredictions")
	defer span.End()

	db := getDB(ctx, r.client.db)

	now := time.Now()
	result := db.Model(&entity.DiagnosisSession{}).Where("id = ?", id).Updates(map[string]any{
		"predictions":  predictions,
		"status":       entity.SessionStatusCompleted,
		"completed_at": now,
	})
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to persist predictions: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) MarkStatus(ctx context.Context, id string, status entity.SessionStatus) error {
	ctx, span := tracer.Start(ctx, "postgres.SessionRepository.MarkStatus")
	defer span.End()

	db := getDB(ctx, r.client.db)

	result := db.Model(&entity.DiagnosisSession{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		span.RecordError(result.Error)
		return fmt.Errorf("failed to mark session status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.ErrSessionNotFound
	}
	return nil
}
