package diagnosis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/internal/domain/service"
	"ai-diagnosis-api/pkg/errors"
)

// fakeCompletionClient 可编排失败次数的预测客户端桩
type fakeCompletionClient struct {
	failures int
	content  string
	calls    int
	prompts  []string
}

func (c *fakeCompletionClient) Complete(_ context.Context, req service.CompletionRequest) (*service.CompletionResult, error) {
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	if c.calls <= c.failures {
		return nil, fmt.Errorf("upstream unavailable")
	}
	return &service.CompletionResult{
		Content:          c.content,
		Model:            "gpt-4o-mini",
		PromptTokens:     900,
		CompletionTokens: 300,
	}, nil
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		Model:             "gpt-4o-mini",
		MaxResponseTokens: 1000,
		Temperature:       0.2,
		MaxRetries:        3,
		BaseBackoff:       time.Second,
		MaxBackoff:        10 * time.Second,
	}
}

func testInput() Input {
	return Input{
		SessionID: "sess-1",
		SubjectID: "subj-1",
		Symptoms:  []string{"fever", "cough"},
		Age:       30,
		Gender:    entity.GenderMale,
		Duration:  "3 days",
		Severity:  entity.SeverityModerate,
		Priority:  entity.PriorityNormal,
	}
}

const validResponse = `{"predictions": [{"disease_name": "Influenza", "confidence": 0.8, "explanation": "likely flu"}]}`

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestExecutor_SucceedsFirstAttempt(t *testing.T) {
	client := &fakeCompletionClient{content: validResponse}
	exec := NewExecutor(client, testLLMConfig(), testPredictionConfig()).WithSleep(noSleep)

	result, err := exec.Predict(context.Background(), testInput(), "- Influenza (J11): flu\n", testCatalog())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int64(1200), result.TotalTokens())
	require.Len(t, result.Predictions, 1)
	assert.Equal(t, "Influenza", result.Predictions[0].DiseaseName)
	assert.Equal(t, "d1", result.Predictions[0].DiseaseID)
}

func TestExecutor_RetriesWithExponentialBackoff(t *testing.T) {
	client := &fakeCompletionClient{failures: 2, content: validResponse}

	var delays []time.Duration
	exec := NewExecutor(client, testLLMConfig(), testPredictionConfig()).
		WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		})

	result, err := exec.Predict(context.Background(), testInput(), "", testCatalog())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, client.calls)
	// 第 2、3 次尝试前分别退避 base、base×2
	require.Len(t, delays, 2)
	assert.Equal(t, time.Second, delays[0])
	assert.Equal(t, 2*time.Second, delays[1])
}

func TestExecutor_BackoffCapped(t *testing.T) {
	cfg := testLLMConfig()
	cfg.MaxRetries = 5
	cfg.MaxBackoff = 3 * time.Second
	client := &fakeCompletionClient{failures: 4, content: validResponse}

	var delays []time.Duration
	exec := NewExecutor(client, cfg, testPredictionConfig()).
		WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		})

	_, err := exec.Predict(context.Background(), testInput(), "", testCatalog())
	require.NoError(t, err)

	require.Len(t, delays, 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestExecutor_ExhaustionPropagates(t *testing.T) {
	client := &fakeCompletionClient{failures: 10}
	exec := NewExecutor(client, testLLMConfig(), testPredictionConfig()).WithSleep(noSleep)

	_, err := exec.Predict(context.Background(), testInput(), "", testCatalog())
	require.Error(t, err)

	assert.Equal(t, 3, client.calls, "exactly maxRetries attempts")
	assert.Equal(t, errors.CodeMaxRetriesExceeded, errors.AsAppError(err).Code)
}

func TestExecutor_ParseFailureConsumesAttempt(t *testing.T) {
	client := &fakeCompletionClient{content: "I cannot answer that."}
	exec := NewExecutor(client, testLLMConfig(), testPredictionConfig()).WithSleep(noSleep)

	_, err := exec.Predict(context.Background(), testInput(), "", testCatalog())
	require.Error(t, err)
	assert.Equal(t, 3, client.calls, "unparseable responses are retried like transport failures")
}

func TestExecutor_PromptIsBounded(t *testing.T) {
	client := &fakeCompletionClient{content: validResponse}
	exec := NewExecutor(client, testLLMConfig(), testPredictionConfig()).WithSleep(noSleep)

	_, err := exec.Predict(context.Background(), testInput(), "- Influenza (J11): flu\n", testCatalog())
	require.NoError(t, err)

	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.Contains(t, prompt, "age 30")
	assert.Contains(t, prompt, "fever, cough")
	assert.Contains(t, prompt, "- Influenza (J11): flu")
	assert.Contains(t, prompt, "at most 3 predictions")
}
