package validity

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnalyzer(ordinal ...string) *Analyzer {
	return NewAnalyzer(ordinal, internal.NewLogger(internal.LogLevelError))
}

func TestRanksAverageTies(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, Ranks([]float64{10, 20, 20, 30}))
	assert.Equal(t, []float64{3, 1, 2}, Ranks([]float64{9, 1, 5}))
}

func TestCompositeScore(t *testing.T) {
	ds, err := dataset.New("s2", "id", []string{"a", "b"}, []string{"arvis_1", "arvis_2", "other"},
		[][]float64{{1, 2, 5}, {3, math.NaN(), 4}})
	require.NoError(t, err)

	score, err := CompositeScore(ds, []string{"arvis_1", "arvis_2"}, "arvis_total")
	require.NoError(t, err)
	assert.Equal(t, 3.0, score.Values[0])
	assert.True(t, math.IsNaN(score.Values[1]))

	withScore, err := WithScores(ds, score)
	require.NoError(t, err)
	assert.True(t, withScore.HasColumn("arvis_total"))
	assert.False(t, ds.HasColumn("arvis_total"))

	_, err = CompositeScore(ds, []string{"arvis_9"}, "x")
	assert.True(t, core.IsSchemaError(err))
}

func TestOverlappingCorrelationsKnownValues(t *testing.T) {
	a := newAnalyzer()
	z, p, err := a.CompareOverlappingCorrelations(0.5, 0.2, 0.3, 200, psychometrics.OverlapSteiger)
	require.NoError(t, err)
	assert.InDelta(t, 3.948808, z, 1e-5)
	assert.Less(t, p, 0.001)

	z, _, err = a.CompareOverlappingCorrelations(0.5, 0.2, 0.3, 200, psychometrics.OverlapMengRosenthalRubin)
	require.NoError(t, err)
	assert.InDelta(t, 3.919540, z, 1e-5)
}

func TestOverlappingCorrelationsSwapSymmetry(t *testing.T) {
	a := newAnalyzer()
	for _, method := range []psychometrics.OverlapMethod{psychometrics.OverlapSteiger, psychometrics.OverlapMengRosenthalRubin} {
		z1, p1, err := a.CompareOverlappingCorrelations(0.62, 0.18, 0.25, 236, method)
		require.NoError(t, err)
		z2, p2, err := a.CompareOverlappingCorrelations(0.18, 0.62, 0.25, 236, method)
		require.NoError(t, err)
		assert.InDelta(t, z1, -z2, 1e-12, method)
		assert.InDelta(t, p1, p2, 1e-12, method)
	}

	_, _, err := a.CompareOverlappingCorrelations(1, 0.2, 0.1, 100, psychometrics.OverlapSteiger)
	assert.True(t, core.IsAssumptionViolation(err))
}

func measures(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	ids := make([]string, n)
	values := make([][]float64, n)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64()
		ids[i] = fmt.Sprintf("S%03d", i)
		values[i] = []float64{
			x,
			0.7*x + 0.7*rng.NormFloat64(),
			0.1*x + rng.NormFloat64(),
			math.Round(0.7*x+0.7*rng.NormFloat64()) + 3,
		}
	}
	ds, err := dataset.New("s2", "id", ids, []string{"arvis_total", "fear", "extraversion", "ordinal_fear"}, values)
	require.NoError(t, err)
	return ds
}

func TestCorrelationMatrix(t *testing.T) {
	ds := measures(t, 300)
	a := newAnalyzer("ordinal_fear")
	results, err := a.CorrelationMatrix(ds, []string{"arvis_total", "fear", "ordinal_fear"}, psychometrics.Pearson)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, psychometrics.Pearson, results[0].Method)
	assert.Greater(t, results[0].R, 0.5)
	assert.Less(t, results[0].PValue, 1e-6)
	assert.Equal(t, 300, results[0].N)
	assert.Equal(t, psychometrics.Spearman, results[1].Method, "ordinal variables use ranks")

	rev, err := a.Correlate(ds, "fear", "arvis_total", psychometrics.Pearson)
	require.NoError(t, err)
	assert.InDelta(t, results[0].R, rev.R, 1e-12)
}

func TestSpearmanIsRankInvariant(t *testing.T) {
	ds, err := dataset.New("s", "id", []string{"a", "b", "c", "d", "e"}, []string{"x", "y"},
		[][]float64{{1, 1}, {2, 8}, {3, 27}, {4, 64}, {5, 125}})
	require.NoError(t, err)
	res, err := newAnalyzer().Correlate(ds, "x", "y", psychometrics.Spearman)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.R, 1e-12)
}

func TestCompareConvergentDivergent(t *testing.T) {
	ds := measures(t, 300)
	a := newAnalyzer()
	out, err := a.CompareConvergentDivergent(ds, "arvis_total", []string{"fear"}, []string{"extraversion"},
		psychometrics.Pearson, psychometrics.OverlapSteiger)
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, "fear", c.Convergent)
	assert.Greater(t, c.RJK, c.RJH)
	assert.Greater(t, c.Z, 0.0)
	assert.True(t, c.Significant(0.05))

	d := ComparisonsDecision(out, 0.05)
	assert.Empty(t, d.ItemsMatched)
	assert.Contains(t, d.Outcome, "1 of 1")
}
