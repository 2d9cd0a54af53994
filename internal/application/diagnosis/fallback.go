package diagnosis

import (
	"strings"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

// fallbackKeywords 兜底匹配用的通用症状关键词。
// 疾病名包含任一关键词（或任一提交的症状词）即视为候选。
var fallbackKeywords = []string{
	"fever", "cough", "cold", "flu", "pain", "headache",
	"fatigue", "infection", "allergy", "nausea",
}

const fallbackExplanation = "Generated by the fallback predictor because the AI prediction service was unavailable. Please consult a medical professional."

// Fallback 确定性兜底预测。
// 纯函数，无网络访问：过滤疾病库中名称与症状或通用关键词匹配的条目，
// 取前 3 条，置信度从 0.6 起按名次递减 0.1。
// 疾病库无任何匹配时返回 NoFallbackAvailable——这是唯一真正致命的路径。
func Fallback(catalog []*entity.Disease, symptoms []string, cfg *config.PredictionConfig) (entity.PredictionList, error) {
	terms := make([]string, 0, len(symptoms)+len(fallbackKeywords))
	for _, s := range symptoms {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			terms = append(terms, s)
		}
	}
	terms = append(terms, fallbackKeywords...)

	maxPredictions := cfg.MaxPredictions
	if maxPredictions <= 0 {
		maxPredictions = 3
	}

	out := make(entity.PredictionList, 0, maxPredictions)
	for _, d := range catalog {
		name := strings.ToLower(d.Name)
		matched := false
		for _, term := range terms {
			if strings.Contains(name, term) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		confidence := clamp(0.6-0.1*float64(len(out)), cfg.MinConfidence, cfg.MaxConfidence)
		out = append(out, entity.PredictionCandidate{
			DiseaseID:      d.ID,
			DiseaseName:    d.Name,
			Confidence:     confidence,
			ConfidenceLow:  clamp(confidence-cfg.IntervalMargin, 0, 1),
			ConfidenceHigh: clamp(confidence+cfg.IntervalMargin, 0, 1),
			Explanation:    fallbackExplanation,
			Fallback:       true,
		})
		if len(out) >= maxPredictions {
			break
		}
	}

	if len(out) == 0 {
		return nil, errors.ErrNoFallbackAvailable
	}
	return out, nil
}
