// Package llm 提供外部生成式预测服务客户端实现
package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/service"
)

var tracer = otel.Tracer("llm")

const systemPrompt = "You are a medical diagnosis assistant. You respond with strictly formatted JSON and never include commentary outside the JSON."

// OpenAIClient OpenAI 兼容接口的预测客户端。
// BaseURL 可指向任意兼容网关，模型与超时由配置决定。
type OpenAIClient struct {
	client *openai.Client
	cfg    *config.LLMConfig
}

// NewOpenAIClient 创建预测客户端
func NewOpenAIClient(cfg *config.LLMConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

var _ service.CompletionClient = (*OpenAIClient)(nil)

// Complete 执行一次补全调用
func (c *OpenAIClient) Complete(ctx context.Context, req service.CompletionRequest) (*service.CompletionResult, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	span.SetAttributes(
		attribute.String("llm.model", c.cfg.Model),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	)
	defer span.End()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	return &service.CompletionResult{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
