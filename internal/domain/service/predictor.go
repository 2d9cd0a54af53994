// Package service 定义跨层的稳定契约（port）
package service

import "context"

// CompletionRequest 外部生成式预测服务的调用参数
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResult 调用结果与可计费数据
type CompletionResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// CompletionClient 外部生成式预测服务客户端。
// 实现位于 infrastructure/llm；应用层只依赖该接口，便于测试替换。
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}
