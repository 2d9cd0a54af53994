// Package entity 定义领域实体
package entity

// PredictionCandidate 单条疾病预测候选
type PredictionCandidate struct {
	DiseaseID   string  `json:"disease_id"`
	DiseaseName string  `json:"disease_name"`
	Confidence  float64 `json:"confidence"`

	// 置信区间为 Confidence ± 固定边距，截断到 [0,1]
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`

	Reasoning       []string `json:"reasoning,omitempty"`
	RiskFactors     []string `json:"risk_factors,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Explanation     string   `json:"explanation"`

	// Fallback 标记该候选来自确定性兜底预测器
	Fallback bool `json:"fallback,omitempty"`
}
