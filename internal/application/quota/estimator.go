package quota

import "ai-diagnosis-api/internal/config"

// Estimator 纯函数式的 Token 与费用估算器。
// 估算采用固定的“字符/Token”启发值，外加系统提示词与预期响应的固定开销。
type Estimator struct {
	charsPerToken          int
	promptOverheadTokens   int
	expectedResponseTokens int
	costPer1KTokens        float64
}

// NewEstimator 创建估算器
func NewEstimator(cfg *config.QuotaConfig) *Estimator {
	charsPerToken := cfg.CharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return &Estimator{
		charsPerToken:          charsPerToken,
		promptOverheadTokens:   cfg.PromptOverheadTokens,
		expectedResponseTokens: cfg.ExpectedResponseTokens,
		costPer1KTokens:        cfg.CostPer1KTokens,
	}
}

// EstimateTokens 根据输入文本长度估算一次调用的总 Token 消耗
func (e *Estimator) EstimateTokens(inputText string) int64 {
	textTokens := len(inputText) / e.charsPerToken
	return int64(textTokens + e.promptOverheadTokens + e.expectedResponseTokens)
}

// Cost 按每千 Token 单价折算费用
func (e *Estimator) Cost(tokens int64) float64 {
	return float64(tokens) / 1000 * e.costPer1KTokens
}
