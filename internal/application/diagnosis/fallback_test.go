package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/config"
	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

func testPredictionConfig() *config.PredictionConfig {
	return &config.PredictionConfig{
		MaxPredictions: 3,
		MinConfidence:  0.1,
		MaxConfidence:  0.95,
		IntervalMargin: 0.1,
		MaxRunRetries:  3,
	}
}

func TestFallback_DescendingConfidenceByRank(t *testing.T) {
	preds, err := Fallback(testCatalog(), []string{"fever", "cough"}, testPredictionConfig())
	require.NoError(t, err)
	require.NotEmpty(t, preds)
	assert.LessOrEqual(t, len(preds), 3)

	assert.InDelta(t, 0.6, preds[0].Confidence, 1e-9)
	if len(preds) > 1 {
		assert.InDelta(t, 0.5, preds[1].Confidence, 1e-9)
	}
	for _, p := range preds {
		assert.True(t, p.Fallback, "fallback candidates carry the fallback mark")
		assert.InDelta(t, p.Confidence-0.1, p.ConfidenceLow, 1e-9)
		assert.InDelta(t, p.Confidence+0.1, p.ConfidenceHigh, 1e-9)
		assert.Contains(t, p.Explanation, "fallback")
	}
}

func TestFallback_MatchesGenericKeywords(t *testing.T) {
	// 症状词不命中任何名称，依赖通用关键词（flu、cold）匹配
	preds, err := Fallback(testCatalog(), []string{"dizziness"}, testPredictionConfig())
	require.NoError(t, err)

	names := make([]string, 0, len(preds))
	for _, p := range preds {
		names = append(names, p.DiseaseName)
	}
	assert.Contains(t, names, "Influenza")
	assert.Contains(t, names, "Common Cold")
}

func TestFallback_NoCatalogMatchIsFatal(t *testing.T) {
	catalog := []*entity.Disease{
		{ID: "d9", Code: "X99", Name: "Xeroderma", Description: "rare skin condition"},
	}

	_, err := Fallback(catalog, []string{"dizziness"}, testPredictionConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoFallbackAvailable)
}

func TestFallback_CapsAtMaxPredictions(t *testing.T) {
	catalog := []*entity.Disease{
		{ID: "a", Name: "Fever Type A"},
		{ID: "b", Name: "Fever Type B"},
		{ID: "c", Name: "Fever Type C"},
		{ID: "d", Name: "Fever Type D"},
	}

	preds, err := Fallback(catalog, []string{"fever"}, testPredictionConfig())
	require.NoError(t, err)
	assert.Len(t, preds, 3)
}
