package diagnosis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONValue(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bare object",
			content: `{"predictions": []}`,
			want:    `{"predictions": []}`,
		},
		{
			name:    "markdown fenced",
			content: "```json\n{\"predictions\": []}\n```",
			want:    `{"predictions": []}`,
		},
		{
			name:    "surrounding prose",
			content: "Here are the results:\n{\"predictions\": []}\nLet me know if you need more.",
			want:    `{"predictions": []}`,
		},
		{
			name:    "bare array",
			content: "Sure!\n[{\"disease_name\": \"Influenza\"}]",
			want:    `[{"disease_name": "Influenza"}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONValue(tt.content))
		})
	}
}

func TestParsePredictions_ObjectAndArrayForms(t *testing.T) {
	preds, err := parsePredictions(`{"predictions": [{"disease_name": "Influenza", "confidence": 0.8}]}`)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "Influenza", preds[0].DiseaseName)

	preds, err = parsePredictions(`[{"disease_name": "Common Cold", "confidence": 0.4}]`)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "Common Cold", preds[0].DiseaseName)

	_, err = parsePredictions("not json at all")
	assert.Error(t, err)
}

func TestNormalizePredictions_BoundsAndOrdering(t *testing.T) {
	raws := []rawPrediction{
		{DiseaseName: "Influenza", Confidence: 0.5},
		{DiseaseName: "Common Cold", Confidence: 1.7},
		{DiseaseName: "Gastritis", Confidence: 0.02},
		{DiseaseName: "Influenza", Confidence: 0.9},
		{DiseaseName: "Common Cold", Confidence: 0.3},
	}

	out := normalizePredictions(context.Background(), raws, testCatalog(), testPredictionConfig())

	require.LessOrEqual(t, len(out), 3)
	for i, p := range out {
		assert.GreaterOrEqual(t, p.Confidence, 0.1)
		assert.LessOrEqual(t, p.Confidence, 0.95)
		assert.GreaterOrEqual(t, p.ConfidenceLow, 0.0)
		assert.LessOrEqual(t, p.ConfidenceHigh, 1.0)
		assert.InDelta(t, clamp(p.Confidence-0.1, 0, 1), p.ConfidenceLow, 1e-9)
		assert.InDelta(t, clamp(p.Confidence+0.1, 0, 1), p.ConfidenceHigh, 1e-9)
		if i > 0 {
			assert.LessOrEqual(t, p.Confidence, out[i-1].Confidence, "sorted descending")
		}
	}
}

func TestNormalizePredictions_TruncatesListFields(t *testing.T) {
	raws := []rawPrediction{{
		DiseaseName:     "Influenza",
		Confidence:      0.8,
		Reasoning:       []string{"a", "b", "c", "d", "e"},
		RiskFactors:     []string{"a", "b", "c"},
		Recommendations: []string{"a", "b", "c", "d"},
	}}

	out := normalizePredictions(context.Background(), raws, testCatalog(), testPredictionConfig())
	require.Len(t, out, 1)
	assert.Len(t, out[0].Reasoning, 3)
	assert.Len(t, out[0].RiskFactors, 2)
	assert.Len(t, out[0].Recommendations, 3)
}

func TestResolveDisease_Tiers(t *testing.T) {
	catalog := testCatalog()
	ctx := context.Background()

	// 精确匹配，忽略大小写
	d := resolveDisease(ctx, "influenza", catalog)
	require.NotNil(t, d)
	assert.Equal(t, "d1", d.ID)

	// 首词子串匹配："Common" 命中 "Common Cold"
	d = resolveDisease(ctx, "Common viral illness", catalog)
	require.NotNil(t, d)
	assert.Equal(t, "d2", d.ID)

	// 无匹配时退到库内第一条占位
	d = resolveDisease(ctx, "Totally Unknown", catalog)
	require.NotNil(t, d)
	assert.Equal(t, "d1", d.ID)

	assert.Nil(t, resolveDisease(ctx, "anything", nil))
}

func TestNormalizePredictions_EmptySynthesizesLowConfidence(t *testing.T) {
	out := normalizePredictions(context.Background(), nil, testCatalog(), testPredictionConfig())

	require.Len(t, out, 1)
	assert.Equal(t, "Influenza", out[0].DiseaseName)
	assert.InDelta(t, 0.3, out[0].Confidence, 1e-9)
	assert.NotEmpty(t, out[0].Explanation)
}
