package screening

import (
	"testing"

	"arvis/domain/core"
	"arvis/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterItemCorrelationSymmetric(t *testing.T) {
	gen := testkit.NewSurveyGenerator(testkit.DefaultSurveyConfig())
	ds, err := gen.Generate()
	require.NoError(t, err)

	items := gen.Items()
	cm, err := ComputeInterItemCorrelation(ds, items)
	require.NoError(t, err)
	assert.Equal(t, ds.Rows(), cm.N)

	for i := range items {
		assert.Equal(t, 1.0, cm.Values.At(i, i))
		for j := range items {
			assert.InDelta(t, cm.Values.At(i, j), cm.Values.At(j, i), 1e-12)
			assert.LessOrEqual(t, cm.Values.At(i, j), 1.0+1e-12)
		}
	}

	// items of the same factor correlate more than items across factors
	within, err := cm.At("arvis_1", "arvis_2")
	require.NoError(t, err)
	across, err := cm.At("arvis_1", "arvis_9")
	require.NoError(t, err)
	assert.Greater(t, within, across)
}

func TestLowCorrelationItems(t *testing.T) {
	config := testkit.DefaultSurveyConfig()
	config.Factors[0].Loadings = append(config.Factors[0].Loadings, 0.05)
	gen := testkit.NewSurveyGenerator(config)
	ds, err := gen.Generate()
	require.NoError(t, err)

	cm, err := ComputeInterItemCorrelation(ds, gen.Items())
	require.NoError(t, err)

	dec := LowCorrelationItems(cm, 0.40)
	assert.Contains(t, dec.ItemsMatched, gen.ItemsOf(config.Factors[0].Name)[5])
	assert.Equal(t, "mean_inter_item_r", dec.Metric)
	assert.Len(t, dec.Values, len(gen.Items()))

	none := LowCorrelationItems(cm, -1)
	assert.Empty(t, none.ItemsMatched)
}

func TestInterItemCorrelationZeroVariance(t *testing.T) {
	ds := likertDataset(t, map[string][]float64{
		"arvis_1": {1, 2, 3, 4},
		"arvis_2": {2, 2, 2, 2},
		"arvis_3": {4, 3, 2, 1},
	})
	_, err := ComputeInterItemCorrelation(ds, []string{"arvis_1", "arvis_2", "arvis_3"})
	assert.True(t, core.IsAssumptionViolation(err))

	_, err = ComputeInterItemCorrelation(ds, []string{"arvis_1"})
	assert.Error(t, err)
}
