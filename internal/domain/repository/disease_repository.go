// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"ai-diagnosis-api/internal/domain/entity"
)

// DiseaseRepository 参考疾病库仓储
type DiseaseRepository interface {
	// QueryByKeyword 名称或描述的大小写不敏感子串匹配，最多返回 limit 条
	QueryByKeyword(ctx context.Context, terms []string, limit int) ([]*entity.Disease, error)
	// Sample 任意抽取 n 条，供无匹配时兜底
	Sample(ctx context.Context, n int) ([]*entity.Disease, error)
	FindByName(ctx context.Context, name string) (*entity.Disease, error)
	List(ctx context.Context) ([]*entity.Disease, error)
}
