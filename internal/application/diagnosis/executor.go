package diagnosis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/service"
	"ai-diagnosis-api/pkg/errors"
	"ai-diagnosis-api/pkg/logger"
	"ai-diagnosis-api/pkg/metrics"
)

// PredictResult 执行器的预测结果与计费数据
type PredictResult struct {
	Predictions      entity.PredictionList
	Model            string
	PromptTokens     int
	CompletionTokens int
	Attempts         int
}

// TotalTokens 本次执行消耗的总 Token 数
func (r *PredictResult) TotalTokens() int64 {
	return int64(r.PromptTokens + r.CompletionTokens)
}

// Executor 预测执行器。
// 显式的有界重试状态机：attempt 从 1 数到 MaxRetries，失败后按
// BaseBackoff × 2^(attempt-1) 指数退避（有上限），耗尽后把错误交还调用方，
// 由调用方决定是否走确定性兜底。
type Executor struct {
	client  service.CompletionClient
	llmCfg  *config.LLMConfig
	predCfg *config.PredictionConfig

	// sleep 可注入，测试中替换为记录调用的桩
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor 创建预测执行器
func NewExecutor(client service.CompletionClient, llmCfg *config.LLMConfig, predCfg *config.PredictionConfig) *Executor {
	return &Executor{
		client:  client,
		llmCfg:  llmCfg,
		predCfg: predCfg,
		sleep:   sleepContext,
	}
}

// WithSleep 注入退避等待实现，测试用
func (e *Executor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	e.sleep = sleep
	return e
}

// Predict 调用外部预测服务并归一化输出。
// 传输失败与解析失败同等对待：都消耗一次尝试并触发退避。
func (e *Executor) Predict(ctx context.Context, in Input, diseaseContext string, catalog []*entity.Disease) (*PredictResult, error) {
	ctx, span := tracer.Start(ctx, "diagnosis.Predict")
	span.SetAttributes(attribute.String("diagnosis.session_id", in.SessionID))
	defer span.End()

	prompt := BuildPrompt(in, diseaseContext, e.predCfg.MaxPredictions)
	maxRetries := e.llmCfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			metrics.LLMCallRetriesTotal.Inc()
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		result, err := e.attemptOnce(ctx, prompt)
		if err != nil {
			lastErr = err
			logger.Warn(ctx, "prediction attempt failed",
				"session_id", in.SessionID, "attempt", attempt, "max_retries", maxRetries, "error", err)
			continue
		}

		predictions := normalizePredictions(ctx, result.raws, catalog, e.predCfg)
		span.SetAttributes(attribute.Int("diagnosis.attempts", attempt))
		return &PredictResult{
			Predictions:      predictions,
			Model:            result.model,
			PromptTokens:     result.promptTokens,
			CompletionTokens: result.completionTokens,
			Attempts:         attempt,
		}, nil
	}

	span.RecordError(lastErr)
	return nil, errors.Wrap(lastErr, errors.CodeMaxRetriesExceeded,
		fmt.Sprintf("prediction failed after %d attempts", maxRetries))
}

type attemptResult struct {
	raws             []rawPrediction
	model            string
	promptTokens     int
	completionTokens int
}

// attemptOnce 单次调用与解析
func (e *Executor) attemptOnce(ctx context.Context, prompt string) (*attemptResult, error) {
	start := time.Now()
	resp, err := e.client.Complete(ctx, service.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   e.llmCfg.MaxResponseTokens,
		Temperature: e.llmCfg.Temperature,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUpstreamPrediction, "completion call failed")
	}
	metrics.LLMCallDuration.WithLabelValues(resp.Model).Observe(time.Since(start).Seconds())
	metrics.LLMTokensUsed.WithLabelValues(resp.Model, "prompt").Add(float64(resp.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(resp.Model, "completion").Add(float64(resp.CompletionTokens))

	raws, err := parsePredictions(resp.Content)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUpstreamPrediction, "completion response unparseable")
	}

	return &attemptResult{
		raws:             raws,
		model:            resp.Model,
		promptTokens:     resp.PromptTokens,
		completionTokens: resp.CompletionTokens,
	}, nil
}

// backoff 计算第 attempt 次尝试前的退避时长
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.llmCfg.BaseBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt-1; i++ {
		d *= 2
		if e.llmCfg.MaxBackoff > 0 && d >= e.llmCfg.MaxBackoff {
			return e.llmCfg.MaxBackoff
		}
	}
	if e.llmCfg.MaxBackoff > 0 && d > e.llmCfg.MaxBackoff {
		d = e.llmCfg.MaxBackoff
	}
	return d
}

// sleepContext 可取消的等待
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
