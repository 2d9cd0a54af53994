package diagnosis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-diagnosis-api/internal/domain/entity"
	"ai-diagnosis-api/pkg/errors"
)

// fakeDiseaseRepo 内存疾病库，匹配语义与生产实现一致
type fakeDiseaseRepo struct {
	diseases []*entity.Disease
}

func (r *fakeDiseaseRepo) QueryByKeyword(_ context.Context, terms []string, limit int) ([]*entity.Disease, error) {
	var out []*entity.Disease
	for _, d := range r.diseases {
		name := strings.ToLower(d.Name)
		desc := strings.ToLower(d.Description)
		for _, term := range terms {
			term = strings.ToLower(term)
			if term != "" && (strings.Contains(name, term) || strings.Contains(desc, term)) {
				out = append(out, d)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeDiseaseRepo) Sample(_ context.Context, n int) ([]*entity.Disease, error) {
	if n > len(r.diseases) {
		n = len(r.diseases)
	}
	return r.diseases[:n], nil
}

func (r *fakeDiseaseRepo) FindByName(_ context.Context, name string) (*entity.Disease, error) {
	for _, d := range r.diseases {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, errors.ErrNotFound
}

func (r *fakeDiseaseRepo) List(_ context.Context) ([]*entity.Disease, error) {
	return r.diseases, nil
}

func testCatalog() []*entity.Disease {
	return []*entity.Disease{
		{ID: "d1", Code: "J11", Name: "Influenza", Description: "viral infection with fever and cough"},
		{ID: "d2", Code: "J00", Name: "Common Cold", Description: "mild upper respiratory infection"},
		{ID: "d3", Code: "K21", Name: "Gastritis", Description: "inflammation of the stomach lining"},
	}
}

func TestContextSelector_MatchesBySymptom(t *testing.T) {
	selector := NewContextSelector(&fakeDiseaseRepo{diseases: testCatalog()})

	block, err := selector.RelevantContext(context.Background(), []string{"fever", "cough"})
	require.NoError(t, err)

	assert.Contains(t, block, "- Influenza (J11): viral infection with fever and cough")
	assert.NotContains(t, block, "Gastritis")
}

func TestContextSelector_FallsBackToSampleOnNoMatch(t *testing.T) {
	selector := NewContextSelector(&fakeDiseaseRepo{diseases: testCatalog()})

	block, err := selector.RelevantContext(context.Background(), []string{"zzz-unmatchable"})
	require.NoError(t, err)

	// 零匹配时退化为抽样，保证上下文非空
	assert.Contains(t, block, "Influenza")
	assert.Contains(t, block, "Gastritis")
}

func TestFormatDiseaseContext_OneLinePerEntry(t *testing.T) {
	block := FormatDiseaseContext(testCatalog())
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	assert.Len(t, lines, 3)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "- "), line)
	}
}
