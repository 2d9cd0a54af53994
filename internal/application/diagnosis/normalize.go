package diagnosis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/logger"
)

// rawPrediction 模型输出中的单条候选，字段全部可选
type rawPrediction struct {
	DiseaseName     string   `json:"disease_name"`
	Confidence      float64  `json:"confidence"`
	Reasoning       []string `json:"reasoning"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
	Explanation     string   `json:"explanation"`
}

// rawResponse 模型输出的外层结构
type rawResponse struct {
	Predictions []rawPrediction `json:"predictions"`
}

// extractJSONValue 尝试从模型输出中截取第一个完整 JSON 对象/数组。
// 容错逻辑：模型可能在 JSON 前后夹杂说明文字或 Markdown 代码块标记。
func extractJSONValue(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	objStart := strings.Index(raw, "{")
	arrStart := strings.Index(raw, "[")
	start := -1
	end := -1
	switch {
	case objStart >= 0 && (arrStart < 0 || objStart < arrStart):
		start = objStart
		end = strings.LastIndex(raw, "}")
	case arrStart >= 0:
		start = arrStart
		end = strings.LastIndex(raw, "]")
	}
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	// 确认截取结果至少以 JSON 对象/数组开头
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err == nil {
		if d, ok := tok.(json.Delim); ok && (d == '{' || d == '[') {
			return raw
		}
	}

	dec = json.NewDecoder(strings.NewReader(raw))
	for {
		_, e := dec.Token()
		if e != nil {
			if errors.Is(e, io.EOF) {
				break
			}
			return strings.TrimSpace(s)
		}
	}
	return raw
}

// parsePredictions 从模型原始输出解析候选列表。
// 兼容对象包裹（{"predictions": [...]}) 与裸数组两种形态。
func parsePredictions(content string) ([]rawPrediction, error) {
	raw := extractJSONValue(content)
	if raw == "" {
		return nil, fmt.Errorf("empty prediction response")
	}

	if strings.HasPrefix(raw, "[") {
		var preds []rawPrediction
		if err := json.Unmarshal([]byte(raw), &preds); err != nil {
			return nil, fmt.Errorf("parse prediction array: %w", err)
		}
		return preds, nil
	}

	var resp rawResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse prediction response: %w", err)
	}
	return resp.Predictions, nil
}

// 归一化各字段的截断上限
const (
	maxReasoningItems      = 3
	maxRiskFactorItems     = 2
	maxRecommendationItems = 3
)

// normalizePredictions 对解析出的候选做结构与数值归一化：
// 疾病名解析到疾病库标识、置信度与区间夹取、列表字段截断、按置信度降序。
// 归一化结果永不为空：候选全部无效时合成一条低置信兜底候选。
func normalizePredictions(ctx context.Context, raws []rawPrediction, catalog []*entity.Disease, cfg *config.PredictionConfig) entity.PredictionList {
	out := make(entity.PredictionList, 0, cfg.MaxPredictions)

	for _, raw := range raws {
		if len(out) >= cfg.MaxPredictions {
			break
		}
		name := strings.TrimSpace(raw.DiseaseName)
		if name == "" {
			continue
		}

		disease := resolveDisease(ctx, name, catalog)
		if disease == nil {
			continue
		}

		confidence := clamp(raw.Confidence, cfg.MinConfidence, cfg.MaxConfidence)
		out = append(out, entity.PredictionCandidate{
			DiseaseID:       disease.ID,
			DiseaseName:     disease.Name,
			Confidence:      confidence,
			ConfidenceLow:   clamp(confidence-cfg.IntervalMargin, 0, 1),
			ConfidenceHigh:  clamp(confidence+cfg.IntervalMargin, 0, 1),
			Reasoning:       truncate(raw.Reasoning, maxReasoningItems),
			RiskFactors:     truncate(raw.RiskFactors, maxRiskFactorItems),
			Recommendations: truncate(raw.Recommendations, maxRecommendationItems),
			Explanation:     raw.Explanation,
		})
	}

	if len(out) == 0 && len(catalog) > 0 {
		// 结构有效但无可用候选：合成一条低置信候选，保证执行器不返回空列表
		first := catalog[0]
		confidence := clamp(0.3, cfg.MinConfidence, cfg.MaxConfidence)
		out = append(out, entity.PredictionCandidate{
			DiseaseID:      first.ID,
			DiseaseName:    first.Name,
			Confidence:     confidence,
			ConfidenceLow:  clamp(confidence-cfg.IntervalMargin, 0, 1),
			ConfidenceHigh: clamp(confidence+cfg.IntervalMargin, 0, 1),
			Explanation:    "The symptoms could not be matched with high confidence. Please consult a medical professional for an accurate diagnosis.",
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// resolveDisease 将模型返回的疾病名解析到疾病库条目。
// 三级解析：精确匹配（忽略大小写）、首词子串匹配、最后退到库内第一条并记日志。
// 首词匹配可能把候选绑定到不相干的疾病，这里记录解析路径便于事后审计。
func resolveDisease(ctx context.Context, name string, catalog []*entity.Disease) *entity.Disease {
	if len(catalog) == 0 {
		return nil
	}

	lower := strings.ToLower(name)
	for _, d := range catalog {
		if strings.ToLower(d.Name) == lower {
			return d
		}
	}

	if firstWord := strings.ToLower(firstWordOf(name)); firstWord != "" {
		for _, d := range catalog {
			if strings.Contains(strings.ToLower(d.Name), firstWord) {
				logger.Debug(ctx, "disease name resolved by first-word match",
					"predicted_name", name, "resolved_name", d.Name)
				return d
			}
		}
	}

	logger.Warn(ctx, "disease name not found in catalog, using placeholder",
		"predicted_name", name, "placeholder_name", catalog[0].Name)
	return catalog[0]
}

func firstWordOf(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func truncate(items []string, max int) []string {
	if len(items) <= max {
		return items
	}
	return items[:max]
}
