// Package diagnosis 实现诊断编排核心：上下文选择、预测执行、兜底与多步工作流
package diagnosis

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/repository"
)

var tracer = otel.Tracer("diagnosis")

const (
	// contextQueryLimit 关键词匹配返回的疾病条目上限
	contextQueryLimit = 50
	// contextSampleSize 无匹配时的兜底抽样条数
	contextSampleSize = 20
)

// ContextSelector 将大规模参考疾病库缩小到与症状相关的子集。
// 纯读通路，自身不做缓存，去重依赖上游的预测缓存。
type ContextSelector struct {
	diseaseRepo repository.DiseaseRepository
}

// NewContextSelector 创建上下文选择器
func NewContextSelector(diseaseRepo repository.DiseaseRepository) *ContextSelector {
	return &ContextSelector{diseaseRepo: diseaseRepo}
}

// RelevantContext 根据症状检索相关疾病并格式化为文本块。
// 名称或描述的大小写不敏感子串匹配；零匹配时退化为任意抽样，
// 保证提示词里总有参考条目可用。
func (s *ContextSelector) RelevantContext(ctx context.Context, symptoms []string) (string, error) {
	ctx, span := tracer.Start(ctx, "diagnosis.RelevantContext")
	span.SetAttributes(attribute.Int("diagnosis.symptom_count", len(symptoms)))
	defer span.End()

	terms := make([]string, 0, len(symptoms))
	for _, sym := range symptoms {
		sym = strings.TrimSpace(sym)
		if sym != "" {
			terms = append(terms, sym)
		}
	}

	diseases, err := s.diseaseRepo.QueryByKeyword(ctx, terms, contextQueryLimit)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("query diseases by keyword: %w", err)
	}

	if len(diseases) == 0 {
		diseases, err = s.diseaseRepo.Sample(ctx, contextSampleSize)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("sample diseases: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("diagnosis.context_entries", len(diseases)))
	return FormatDiseaseContext(diseases), nil
}

// FormatDiseaseContext 将疾病条目逐行格式化为 "- 名称 (编码): 描述"
func FormatDiseaseContext(diseases []*entity.Disease) string {
	var b strings.Builder
	for _, d := range diseases {
		fmt.Fprintf(&b, "- %s (%s): %s\n", d.Name, d.Code, d.Description)
	}
	return b.String()
}
