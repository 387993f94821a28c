package factor

import (
	"context"
	"testing"

	"arvis/adapters/rng"
	"arvis/adapters/stats/efa"
	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"
	"arvis/internal/screening"
	"arvis/internal/testkit"
	"arvis/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type mockFactorEstimator struct {
	mock.Mock
}

func (m *mockFactorEstimator) FitEFA(ctx context.Context, req ports.EFARequest) (psychometrics.FactorModel, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(psychometrics.FactorModel), args.Error(1)
}

func newAnalyzer(fe ports.FactorEstimator) *Analyzer {
	return NewAnalyzer(fe, rng.NewAdapter(), 1000, internal.NewLogger(internal.LogLevelError))
}

func survey(t *testing.T) (*dataset.Dataset, []string) {
	t.Helper()
	gen := testkit.NewSurveyGenerator(testkit.DefaultSurveyConfig())
	ds, err := gen.Generate()
	require.NoError(t, err)
	return ds, gen.Items()
}

func TestSphericityAndKMO(t *testing.T) {
	ds, items := survey(t)
	cm, err := screening.ComputeInterItemCorrelation(ds, items)
	require.NoError(t, err)

	res, err := BartlettSphericity(cm, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 36, res.DF)
	assert.Less(t, res.PValue, 0.05)

	kmo, err := KMO(cm)
	require.NoError(t, err)
	assert.Greater(t, kmo.Overall, 0.6)
	assert.Less(t, kmo.Overall, 1.0)
	assert.Len(t, kmo.PerItem, len(items))
	assert.Empty(t, kmo.LowItems(0.5))
}

func TestSphericityIdentityIsViolation(t *testing.T) {
	values := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	cm := psychometrics.CorrelationMatrix{Items: []string{"a", "b", "c"}, Values: values, N: 100}

	res, err := BartlettSphericity(cm, 0.05)
	assert.True(t, core.IsAssumptionViolation(err))
	assert.Equal(t, 1.0, res.PValue)
}

func TestParallelAnalysisRecoversTwoFactors(t *testing.T) {
	ds, items := survey(t)
	responses, err := ds.CompleteMatrix(items)
	require.NoError(t, err)

	a := newAnalyzer(efa.NewEstimator())
	res, err := a.ParallelAnalysis(context.Background(), responses, items, 100, 0.95, 20200415)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recommended)
	assert.Len(t, res.Rows, len(items))
	assert.Greater(t, res.Rows[0].Observed, res.Rows[0].SimulatedQuantile)
	assert.GreaterOrEqual(t, res.Rows[0].SimulatedQuantile, res.Rows[0].SimulatedMean)

	again, err := a.ParallelAnalysis(context.Background(), responses, items, 100, 0.95, 20200415)
	require.NoError(t, err)
	assert.Equal(t, res, again)

	_, err = a.ParallelAnalysis(context.Background(), responses, items, 0, 0.95, 1)
	assert.Error(t, err)
}

func TestSelectFactorCountByBIC(t *testing.T) {
	models := []psychometrics.FactorModel{
		{Label: "efa_1f", Factors: []string{"F1"}, Fit: psychometrics.FitIndices{BIC: -103.79, RMSEA: 0.110}},
		{Label: "efa_2f", Factors: []string{"F1", "F2"}, Fit: psychometrics.FitIndices{BIC: -178.13, RMSEA: 0.052}},
		{Label: "efa_3f", Factors: []string{"F1", "F2", "F3"}, Fit: psychometrics.FitIndices{BIC: -158.22, RMSEA: 0.031}},
	}
	dec, err := SelectFactorCount(models)
	require.NoError(t, err)
	assert.Equal(t, 2, dec.Chosen)
	assert.Equal(t, 3, dec.RMSEAPreferred)
	assert.True(t, dec.Disagreement)
	assert.Contains(t, dec.Rationale, "RMSEA prefers 3 factors")
	assert.Len(t, dec.Table, 3)
	assert.Equal(t, "2 factors", dec.Decision().Outcome)

	_, err = SelectFactorCount(nil)
	assert.Error(t, err)
}

func TestPruneCrossLoadingsScenario(t *testing.T) {
	model := psychometrics.FactorModel{
		Label:   "efa_2f",
		Items:   []string{"arvis_7", "arvis_2"},
		Factors: []string{"F1", "F2"},
		Loadings: [][]float64{
			{0.437, 0.402},
			{0.88, -0.01},
		},
	}
	dec := PruneCrossLoadings(model, 0.3)
	assert.Equal(t, []string{"arvis_7"}, dec.ItemsMatched)
	require.Len(t, dec.Loadings, 2)
	assert.Equal(t, "arvis_2", dec.Loadings[0].Item)
	assert.InDelta(t, 0.87, dec.Loadings[0].Gap, 1e-12)
	assert.InDelta(t, 0.035, dec.Loadings[1].Gap, 1e-12)
	assert.Equal(t, "F2", dec.Loadings[1].SecondaryFactor)

	one := psychometrics.FactorModel{Items: []string{"a"}, Factors: []string{"F1"}, Loadings: [][]float64{{0.1}}}
	assert.Empty(t, PruneCrossLoadings(one, 0.3).ItemsMatched)
}

func TestSelectTopLoadingItems(t *testing.T) {
	model := psychometrics.FactorModel{
		Items:   []string{"a", "b", "c", "d", "e", "f"},
		Factors: []string{"F1", "F2"},
		Loadings: [][]float64{
			{0.70, 0.10},
			{-0.80, 0.00},
			{0.70, 0.05},
			{0.10, 0.60},
			{0.20, 0.75},
			{0.30, 0.40},
		},
	}
	sel := SelectTopLoadingItems(model, 2)
	assert.Equal(t, []string{"b", "a"}, sel.PerFactor["F1"])
	assert.Equal(t, []string{"e", "d"}, sel.PerFactor["F2"])
	assert.Equal(t, []string{"a", "b", "d", "e"}, sel.Kept)
	assert.Equal(t, []string{"c", "f"}, sel.Dropped)
}

func TestIterativePrune(t *testing.T) {
	ds, items := survey(t)
	fe := &mockFactorEstimator{}
	crossLoaded := psychometrics.FactorModel{Label: "efa_2f", Items: items, Factors: []string{"F1", "F2"}}
	for _, it := range items {
		row := []float64{0.7, 0.05}
		if it == "arvis_3" {
			row = []float64{0.45, 0.40}
		}
		crossLoaded.Loadings = append(crossLoaded.Loadings, row)
	}
	fe.On("FitEFA", mock.Anything, mock.MatchedBy(func(r ports.EFARequest) bool { return len(r.Items) == 9 })).
		Return(crossLoaded, nil).Once()

	var remaining []string
	for _, it := range items {
		if it != "arvis_3" {
			remaining = append(remaining, it)
		}
	}
	clean := psychometrics.FactorModel{Label: "efa_2f", Items: remaining, Factors: []string{"F1", "F2"}}
	for range remaining {
		clean.Loadings = append(clean.Loadings, []float64{0.7, 0.05})
	}
	fe.On("FitEFA", mock.Anything, mock.MatchedBy(func(r ports.EFARequest) bool { return len(r.Items) == 8 })).
		Return(clean, nil).Once()

	hist, err := newAnalyzer(fe).IterativePrune(context.Background(), ds, dataset.NewItemSet(items), 2,
		psychometrics.RotationOblimin, 0.3, 10)
	require.NoError(t, err)
	assert.Len(t, hist.Rounds, 2)
	assert.Equal(t, []string{"arvis_3"}, hist.Removed())
	assert.Equal(t, 8, hist.Items.Len())
	require.Len(t, hist.Items.Removals(), 1)
	assert.Equal(t, "cross_loading_prune", hist.Items.Removals()[0].Stage)
	fe.AssertExpectations(t)
}

func TestIterativePruneRoundBudget(t *testing.T) {
	ds, items := survey(t)
	fe := &mockFactorEstimator{}
	fe.On("FitEFA", mock.Anything, mock.Anything).Return(psychometrics.FactorModel{
		Items:    []string{"arvis_1"},
		Factors:  []string{"F1", "F2"},
		Loadings: [][]float64{{0.5, 0.5}},
	}, nil)

	_, err := newAnalyzer(fe).IterativePrune(context.Background(), ds, dataset.NewItemSet(items), 2,
		psychometrics.RotationOblimin, 0.3, 1)
	assert.True(t, core.IsConvergenceError(err))
}

func TestFitRangeStopsAtUnidentifiedCount(t *testing.T) {
	ds, items := survey(t)
	fe := &mockFactorEstimator{}
	for k := 1; k <= 2; k++ {
		k := k
		fe.On("FitEFA", mock.Anything, mock.MatchedBy(func(r ports.EFARequest) bool { return r.Factors == k })).
			Return(psychometrics.FactorModel{Factors: make([]string, k)}, nil).Once()
	}
	fe.On("FitEFA", mock.Anything, mock.MatchedBy(func(r ports.EFARequest) bool { return r.Factors == 3 })).
		Return(psychometrics.FactorModel{}, core.NewAssumptionViolation("factor identification", "negative df")).Once()

	models, err := newAnalyzer(fe).FitRange(context.Background(), ds, items, 4, psychometrics.RotationOblimin)
	require.NoError(t, err)
	assert.Len(t, models, 2)
	fe.AssertExpectations(t)
}

func TestFitIsIdempotent(t *testing.T) {
	ds, items := survey(t)
	a := newAnalyzer(efa.NewEstimator())
	first, err := a.Fit(context.Background(), ds, items, 2, psychometrics.RotationOblimin)
	require.NoError(t, err)
	second, err := a.Fit(context.Background(), ds, items, 2, psychometrics.RotationOblimin)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, first.FactorCount())
}
