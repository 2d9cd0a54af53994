// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

// DiseaseRepository 参考疾病库仓储实现
type DiseaseRepository struct {
	client *Client
}

// NewDiseaseRepository 创建疾病库仓储
func NewDiseaseRepository(client *Client) *DiseaseRepository {
	return &DiseaseRepository{client: client}
}

// QueryByKeyword 名称或描述的大小写不敏感子串匹配
func (r *DiseaseRepository) QueryByKeyword(ctx context.Context, terms []string, limit int) ([]*entity.Disease, error) {
	ctx, span := tracer.Start(ctx, "postgres.DiseaseRepository.QueryByKeyword")
	defer span.End()

	db := getDB(ctx, r.client.db)

	query := db.Model(&entity.Disease{})
	var conditions []string
	var args []any
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		conditions = append(conditions, "(name ILIKE ? OR description ILIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	var diseases []*entity.Disease
	if err := query.Where(strings.Join(conditions, " OR "), args...).
		Order("name").Limit(limit).Find(&diseases).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query diseases: %w", err)
	}
	return diseases, nil
}

// Sample 任意抽取 n 条
func (r *DiseaseRepository) Sample(ctx context.Context, n int) ([]*entity.Disease, error) {
	ctx, span := tracer.Start(ctx, "postgres.DiseaseRepository.Sample")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var diseases []*entity.Disease
	if err := db.Limit(n).Find(&diseases).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to sample diseases: %w", err)
	}
	return diseases, nil
}

func (r *DiseaseRepository) FindByName(ctx context.Context, name string) (*entity.Disease, error) {
	ctx, span := tracer.Start(ctx, "postgres.DiseaseRepository.FindByName")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var disease entity.Disease
	if err := db.Where("LOWER(name) = LOWER(?)", name).First(&disease).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to find disease by name: %w", err)
	}
	return &disease, nil
}

func (r *DiseaseRepository) List(ctx context.Context) ([]*entity.Disease, error) {
	ctx, span := tracer.Start(ctx, "postgres.DiseaseRepository.List")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var diseases []*entity.Disease
	if err := db.Order("name").Find(&diseases).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list diseases: %w", err)
	}
	return diseases, nil
}
