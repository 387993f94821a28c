package screening

import (
	"math"
	"testing"

	"arvis/domain/dataset"
	"arvis/domain/stage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func likertDataset(t *testing.T, columns map[string][]float64) *dataset.Dataset {
	t.Helper()
	names := []string{"arvis_1", "arvis_2", "arvis_3"}
	n := len(columns[names[0]])
	ids := make([]string, n)
	values := make([][]float64, n)
	for i := 0; i < n; i++ {
		ids[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
		values[i] = make([]float64, len(names))
		for j, name := range names {
			values[i][j] = columns[name][i]
		}
	}
	ds, err := dataset.New("arvis_wide", "id", ids, names, values)
	require.NoError(t, err)
	return ds
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestProfileAndFlagSkewed(t *testing.T) {
	// arvis_1 piles 19 of 20 responses on the floor
	floor := append(repeat(1, 19), 5)
	spread := []float64{1, 2, 3, 4, 5, 1, 2, 3, 4, 5, 1, 2, 3, 4, 5, 1, 2, 3, 4, 5}
	mid := append(repeat(3, 10), repeat(4, 10)...)
	ds := likertDataset(t, map[string][]float64{"arvis_1": floor, "arvis_2": spread, "arvis_3": mid})

	profiles, err := Profile(ds, []string{"arvis_1", "arvis_2", "arvis_3"})
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	assert.Equal(t, 1, profiles[0].ModalCategory)
	assert.InDelta(t, 0.95, profiles[0].ModalProportion, 1e-12)
	assert.InDelta(t, 0.95, profiles[0].EndpointProportion, 1e-12)
	assert.Greater(t, profiles[0].Skewness, 3.0)

	assert.InDelta(t, 0.2, profiles[1].EndpointProportion, 1e-12)
	assert.InDelta(t, 0, profiles[1].Skewness, 1e-12)
	assert.InDelta(t, 3, profiles[1].Mean, 1e-12)

	// ties resolve to the lower category
	assert.Equal(t, 3, profiles[2].ModalCategory)
	assert.InDelta(t, 0, profiles[2].EndpointProportion, 1e-12)

	dec, _, err := FlagSkewed(ds, []string{"arvis_1", "arvis_2", "arvis_3"}, SkewRule{Metric: MetricEndpointProportion, Threshold: 0.90})
	require.NoError(t, err)
	assert.Equal(t, []string{"arvis_1"}, dec.ItemsMatched)
	assert.Len(t, dec.Values, 3, "every screened item keeps its metric")

	d := dec.Decision(stage.StageDistributionScreen)
	assert.Equal(t, "endpoint_proportion >= 0.90", d.Rule)
	assert.Equal(t, "removed arvis_1", d.Outcome)
}

func TestFlagSkewedThresholdIsInclusive(t *testing.T) {
	ds := likertDataset(t, map[string][]float64{
		"arvis_1": append(repeat(5, 9), 1),
		"arvis_2": []float64{1, 2, 3, 4, 5, 1, 2, 3, 4, 5},
		"arvis_3": []float64{2, 2, 3, 3, 4, 4, 3, 3, 2, 4},
	})
	dec, _, err := FlagSkewed(ds, []string{"arvis_1", "arvis_2", "arvis_3"}, SkewRule{Metric: MetricModalProportion, Threshold: 0.90})
	require.NoError(t, err)
	assert.Equal(t, []string{"arvis_1"}, dec.ItemsMatched)
}

func TestProfileSkipsMissing(t *testing.T) {
	ds := likertDataset(t, map[string][]float64{
		"arvis_1": {1, 2, math.NaN(), 4},
		"arvis_2": {1, 2, 3, 4},
		"arvis_3": {1, 1, 1, 1},
	})
	profiles, err := Profile(ds, []string{"arvis_1", "arvis_3"})
	require.NoError(t, err)
	assert.Equal(t, 3, profiles[0].N)
	assert.Equal(t, 0.0, profiles[1].SD)
	assert.Equal(t, 0.0, profiles[1].Skewness)
}

func TestFlagSkewedUnknownMetric(t *testing.T) {
	ds := likertDataset(t, map[string][]float64{"arvis_1": {1, 2}, "arvis_2": {1, 2}, "arvis_3": {1, 2}})
	_, _, err := FlagSkewed(ds, []string{"arvis_1"}, SkewRule{Metric: "kurtosis", Threshold: 1})
	assert.Error(t, err)
}
