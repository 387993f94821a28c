package confirmatory

import (
	"context"
	"testing"

	"arvis/adapters/stats/cfa"
	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"
	"arvis/internal/testkit"
	"arvis/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSEM struct {
	mock.Mock
}

func (m *mockSEM) FitCFA(ctx context.Context, req ports.CFARequest) (psychometrics.FactorModel, error) {
	args := m.Called(ctx, req.Specification.Name)
	return args.Get(0).(psychometrics.FactorModel), args.Error(1)
}

func (m *mockSEM) ModificationIndices(ctx context.Context, req ports.CFARequest, model psychometrics.FactorModel) ([]psychometrics.ModificationIndex, error) {
	args := m.Called(ctx, model.Label)
	return args.Get(0).([]psychometrics.ModificationIndex), args.Error(1)
}

func quietLogger() *internal.Logger {
	return internal.NewLogger(internal.LogLevelError)
}

func survey(t *testing.T) (*dataset.Dataset, psychometrics.CFASpecification) {
	t.Helper()
	gen := testkit.NewSurveyGenerator(testkit.DefaultSurveyConfig())
	ds, err := gen.Generate()
	require.NoError(t, err)
	spec := psychometrics.NewCFASpecification("two_factor", []psychometrics.LatentFactor{
		{Name: "avoidance", Indicators: gen.ItemsOf("avoidance")},
		{Name: "vigilance", Indicators: gen.ItemsOf("vigilance")},
	}, nil)
	return ds, spec
}

func fitOf(cfi, rmsea, srmr float64, free int) psychometrics.FitIndices {
	return psychometrics.FitIndices{CFI: cfi, TLI: cfi, RMSEA: rmsea, SRMR: srmr, FreeParameters: free}
}

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	c := th.Classify(fitOf(0.96, 0.04, 0.03, 0))
	assert.Equal(t, FitExcellent, c.Overall())

	c = th.Classify(fitOf(0.96, 0.06, 0.03, 0))
	assert.Equal(t, FitAcceptable, c.RMSEA)
	assert.Equal(t, FitAcceptable, c.Overall())

	c = th.Classify(fitOf(0.89, 0.04, 0.03, 0))
	assert.Equal(t, FitPoor, c.CFI)
	assert.Equal(t, FitPoor, c.Overall())

	// cutoffs are strict
	c = th.Classify(fitOf(0.95, 0.05, 0.05, 0))
	assert.Equal(t, FitAcceptable, c.CFI)
	assert.Equal(t, FitAcceptable, c.RMSEA)
	assert.Equal(t, FitAcceptable, c.SRMR)
}

func TestCompareFitIndicesRanking(t *testing.T) {
	models := []psychometrics.FactorModel{
		{Label: "one_factor", Factors: []string{"general"}, Fit: fitOf(0.85, 0.12, 0.09, 18)},
		{Label: "two_factor", Factors: []string{"a", "b"}, FactorCorrelations: [][]float64{{1, 0.4}, {0.4, 1}}, Fit: fitOf(0.97, 0.04, 0.03, 19)},
		{Label: "two_factor_cov", Factors: []string{"a", "b"}, FactorCorrelations: [][]float64{{1, 0.4}, {0.4, 1}}, Fit: fitOf(0.98, 0.03, 0.03, 20)},
	}
	models[1].Fit.BIC, models[2].Fit.BIC = -10, -5

	ranked := CompareFitIndices(models, DefaultThresholds())
	require.Len(t, ranked, 3)
	assert.Equal(t, "two_factor", ranked[0].Label)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, "two_factor_cov", ranked[1].Label)
	assert.Equal(t, "one_factor", ranked[2].Label)
	assert.Equal(t, FitPoor, ranked[2].Overall)
	assert.InDelta(t, 0.4, ranked[0].MaxFactorR, 1e-12)
	assert.False(t, ranked[0].Redundant)
}

func TestSelectModelPrefersSimplestExcellent(t *testing.T) {
	corr := [][]float64{{1, 0.4}, {0.4, 1}}
	models := []psychometrics.FactorModel{
		{Label: "one_factor", Factors: []string{"g"}, Fit: fitOf(0.85, 0.12, 0.09, 18)},
		{Label: "two_factor", Factors: []string{"a", "b"}, FactorCorrelations: corr, Fit: fitOf(0.97, 0.04, 0.03, 19)},
		{Label: "two_factor_cov", Factors: []string{"a", "b"}, FactorCorrelations: corr, Fit: fitOf(0.99, 0.02, 0.02, 20)},
	}
	sel, err := SelectModel(models, DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, "two_factor", sel.Chosen.Label)
	assert.Equal(t, FitExcellent, sel.Class)
	assert.Equal(t, "poor fit", sel.Rejected["one_factor"])
	assert.Equal(t, "more complex than the chosen model", sel.Rejected["two_factor_cov"])
}

func TestSelectModelRejectsRedundantFactors(t *testing.T) {
	redundant := [][]float64{{1, 0.91}, {0.91, 1}}
	models := []psychometrics.FactorModel{
		{Label: "one_factor", Factors: []string{"g"}, Fit: fitOf(0.93, 0.06, 0.045, 18)},
		{Label: "two_factor", Factors: []string{"a", "b"}, FactorCorrelations: redundant, Fit: fitOf(0.97, 0.04, 0.03, 19)},
	}
	sel, err := SelectModel(models, DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, "one_factor", sel.Chosen.Label)
	assert.Equal(t, FitAcceptable, sel.Class)
	assert.Contains(t, sel.Rationale, "no model reached excellent fit")
	assert.Contains(t, sel.Rejected["two_factor"], "inter-factor r 0.910")

	_, err = SelectModel([]psychometrics.FactorModel{
		{Label: "one_factor", Factors: []string{"g"}, Fit: fitOf(0.80, 0.15, 0.10, 18)},
	}, DefaultThresholds())
	assert.True(t, core.IsAssumptionViolation(err))
}

func TestBuildCandidates(t *testing.T) {
	_, spec := survey(t)
	pair := psychometrics.NewItemPair("arvis_3", "arvis_2")

	specs := BuildCandidates(spec, &pair)
	require.Len(t, specs, 4)
	names := []string{specs[0].Name, specs[1].Name, specs[2].Name, specs[3].Name}
	assert.Equal(t, []string{"one_factor", "one_factor_cov", "two_factor", "two_factor_cov"}, names)
	assert.Len(t, specs[0].Factors, 1)
	assert.Equal(t, spec.Items(), specs[0].Items())
	assert.True(t, specs[3].HasResidualCovariance(pair))
	assert.Empty(t, specs[2].ResidualCovariances)

	assert.Len(t, BuildCandidates(spec, nil), 2)
}

func TestFitAndLikelihoodRatio(t *testing.T) {
	ds, spec := survey(t)
	c := NewComparator(cfa.NewEstimator(), 2000, quietLogger())
	ctx := context.Background()

	models, err := c.FitAll(ctx, BuildCandidates(spec, nil), ds)
	require.NoError(t, err)
	one, two := models[0], models[1]
	assert.Greater(t, two.Fit.CFI, 0.95)
	assert.Less(t, two.Fit.RMSEA, 0.06)
	assert.Equal(t, ds.Rows(), two.Fit.N)

	lrt, err := c.LikelihoodRatioTest(two, one)
	require.NoError(t, err)
	assert.Equal(t, "one_factor@v1", lrt.Restricted)
	assert.Equal(t, 1, lrt.DFDiff)
	assert.True(t, lrt.Significant(0.05))

	again, err := c.Fit(ctx, spec, ds)
	require.NoError(t, err)
	assert.InDelta(t, two.Fit.ChiSquare, again.Fit.ChiSquare, 1e-6)
}

func TestLikelihoodRatioNotNested(t *testing.T) {
	c := NewComparator(&mockSEM{}, 100, quietLogger())
	a := psychometrics.NewCFASpecification("a", []psychometrics.LatentFactor{
		{Name: "f", Indicators: []string{"x1", "x2", "x3"}},
	}, nil)
	b := psychometrics.NewCFASpecification("b", []psychometrics.LatentFactor{
		{Name: "f", Indicators: []string{"x1", "x2", "x4"}},
	}, nil)
	ma := psychometrics.FactorModel{Label: a.ID(), Specification: &a, Fit: psychometrics.FitIndices{DF: 1}}
	mb := psychometrics.FactorModel{Label: b.ID(), Specification: &b, Fit: psychometrics.FitIndices{DF: 0}}
	_, err := c.LikelihoodRatioTest(ma, mb)
	assert.True(t, core.IsNotNestedError(err))

	// different covariance terms at equal df are not nested either
	p := psychometrics.NewCFASpecification("p", []psychometrics.LatentFactor{
		{Name: "f", Indicators: []string{"x1", "x2", "x3", "x4"}},
	}, []psychometrics.ItemPair{psychometrics.NewItemPair("x1", "x2")})
	q := psychometrics.NewCFASpecification("q", []psychometrics.LatentFactor{
		{Name: "f", Indicators: []string{"x1", "x2", "x3", "x4"}},
	}, []psychometrics.ItemPair{psychometrics.NewItemPair("x3", "x4")})
	mp := psychometrics.FactorModel{Label: p.ID(), Specification: &p, Fit: psychometrics.FitIndices{DF: 1}}
	mq := psychometrics.FactorModel{Label: q.ID(), Specification: &q, Fit: psychometrics.FitIndices{DF: 1}}
	_, err = c.LikelihoodRatioTest(mp, mq)
	assert.True(t, core.IsNotNestedError(err))
}

func TestModificationIndicesFilterAndRank(t *testing.T) {
	ds, spec := survey(t)
	sem := &mockSEM{}
	sem.On("ModificationIndices", mock.Anything, "two_factor@v1").Return([]psychometrics.ModificationIndex{
		{Kind: psychometrics.ParamResidualCovariance, Left: "arvis_1", Right: "arvis_4", MI: 3},
		{Kind: psychometrics.ParamResidualCovariance, Left: "arvis_6", Right: "arvis_7", MI: 12},
		{Kind: psychometrics.ParamResidualCovariance, Left: "arvis_2", Right: "arvis_3", MI: 25},
		{Kind: psychometrics.ParamLoading, Left: "avoidance", Right: "arvis_8", MI: 12},
	}, nil)

	model := psychometrics.FactorModel{Label: spec.ID(), Specification: &spec}
	mis, err := NewComparator(sem, 100, quietLogger()).ModificationIndices(context.Background(), model, ds, 10)
	require.NoError(t, err)
	require.Len(t, mis, 3)
	assert.Equal(t, "arvis_2 ~~ arvis_3", mis[0].Label())
	assert.Equal(t, "arvis_6 ~~ arvis_7", mis[1].Label())
	assert.Equal(t, "avoidance =~ arvis_8", mis[2].Label())
}

func respecSEM(removal2, removal3, cov psychometrics.FitIndices) *mockSEM {
	sem := &mockSEM{}
	sem.On("FitCFA", mock.Anything, "two_factor_cov").Return(psychometrics.FactorModel{Label: "two_factor_cov@v2", Fit: cov}, nil)
	sem.On("FitCFA", mock.Anything, "two_factor_minus_arvis_2").Return(psychometrics.FactorModel{Label: "two_factor_minus_arvis_2@v2", Fit: removal2}, nil)
	sem.On("FitCFA", mock.Anything, "two_factor_minus_arvis_3").Return(psychometrics.FactorModel{Label: "two_factor_minus_arvis_3@v2", Fit: removal3}, nil)
	return sem
}

func TestRespecificationPrefersRemovalWhenComparable(t *testing.T) {
	ds, spec := survey(t)
	sem := respecSEM(fitOf(0.965, 0.048, 0.041, 17), fitOf(0.95, 0.06, 0.05, 17), fitOf(0.97, 0.045, 0.04, 20))
	mi := psychometrics.ModificationIndex{Kind: psychometrics.ParamResidualCovariance, Left: "arvis_3", Right: "arvis_2", MI: 25}

	res, err := NewComparator(sem, 100, quietLogger()).RecommendRespecification(context.Background(), spec, ds, mi, 0.01)
	require.NoError(t, err)
	assert.Equal(t, FixRemoveItem, res.Chosen)
	assert.Equal(t, "arvis_2", res.Removal.Item)
	assert.NotContains(t, res.Specification().Items(), "arvis_2")
	assert.Contains(t, res.Rationale, "removing arvis_2 fits comparably")
	assert.Equal(t, []string{"arvis_2"}, res.Decision().ItemsMatched)
	sem.AssertExpectations(t)
}

func TestRespecificationKeepsCovarianceWhenRemovalIsWorse(t *testing.T) {
	ds, spec := survey(t)
	sem := respecSEM(fitOf(0.93, 0.07, 0.06, 17), fitOf(0.92, 0.075, 0.06, 17), fitOf(0.97, 0.045, 0.04, 20))
	mi := psychometrics.ModificationIndex{Kind: psychometrics.ParamResidualCovariance, Left: "arvis_2", Right: "arvis_3", MI: 25}

	res, err := NewComparator(sem, 100, quietLogger()).RecommendRespecification(context.Background(), spec, ds, mi, 0.01)
	require.NoError(t, err)
	assert.Equal(t, FixResidualCovariance, res.Chosen)
	assert.True(t, res.Specification().HasResidualCovariance(psychometrics.NewItemPair("arvis_2", "arvis_3")))
	assert.Equal(t, 2, res.Specification().Version)
	assert.Equal(t, "two_factor_cov@v2", res.Model().Label)
}

func TestPairFromNames(t *testing.T) {
	items := dataset.NewItemSet([]string{"arvis_1", "arvis_2"})
	p, err := PairFromNames([]string{"arvis_2", "arvis_1"}, items)
	require.NoError(t, err)
	assert.Equal(t, "arvis_1", p.A)

	p, err = PairFromNames(nil, items)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = PairFromNames([]string{"arvis_1", "arvis_9"}, items)
	assert.ErrorIs(t, err, core.ErrUnknownItem)
}
