package cfa

import (
	"context"
	"testing"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
	"arvis/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var indicators = []string{"arvis_a", "arvis_b", "arvis_c", "arvis_d", "arvis_e", "arvis_f"}

// implied builds a population covariance from standardized loadings, the
// factor each item belongs to, a factor correlation and residual covariances
func implied(loadings []float64, owner []int, phi float64, residCov map[[2]int]float64) *mat.SymDense {
	p := len(loadings)
	s := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			if i == j {
				s.SetSym(i, i, 1)
				continue
			}
			r := 1.0
			if owner[i] != owner[j] {
				r = phi
			}
			s.SetSym(i, j, loadings[i]*loadings[j]*r+residCov[[2]int{i, j}])
		}
	}
	return s
}

func twoFactorSpec() psychometrics.CFASpecification {
	return psychometrics.NewCFASpecification("two_factor", []psychometrics.LatentFactor{
		{Name: "avoidance", Indicators: indicators[:3]},
		{Name: "vigilance", Indicators: indicators[3:]},
	}, nil)
}

func oneFactorSpec(cov ...psychometrics.ItemPair) psychometrics.CFASpecification {
	return psychometrics.NewCFASpecification("one_factor", []psychometrics.LatentFactor{
		{Name: "arvis", Indicators: indicators},
	}, cov)
}

func TestFitRecoversTwoFactorModel(t *testing.T) {
	loadings := []float64{0.8, 0.7, 0.6, 0.75, 0.65, 0.55}
	s := implied(loadings, []int{0, 0, 0, 1, 1, 1}, 0.4, nil)

	m, err := NewEstimator().FitCFA(context.Background(), ports.CFARequest{Specification: twoFactorSpec(), Covariance: s, N: 202})
	require.NoError(t, err)

	assert.Equal(t, "two_factor@v1", m.Label)
	assert.Equal(t, 8, m.Fit.DF)
	assert.Equal(t, 13, m.Fit.FreeParameters)
	assert.InDelta(t, 0.0, m.Fit.ChiSquare, 1e-3)
	assert.InDelta(t, 1.0, m.Fit.CFI, 1e-6)
	assert.InDelta(t, 0.0, m.Fit.RMSEA, 1e-6)
	assert.InDelta(t, 0.0, m.Fit.SRMR, 1e-3)
	assert.InDelta(t, 0.4, m.FactorCorrelations[0][1], 1e-3)
	for i, want := range loadings {
		owner := 0
		if i >= 3 {
			owner = 1
		}
		assert.InDelta(t, want, m.Loadings[i][owner], 1e-3)
		assert.Equal(t, 0.0, m.Loadings[i][1-owner])
	}
	for _, par := range m.Parameters {
		assert.Greater(t, par.StdError, 0.0, par.Label())
	}
	assert.Empty(t, m.Warnings)
	assert.Less(t, m.Fit.AIC, m.Fit.BIC)
}

func TestModificationIndexFindsOmittedResidualCovariance(t *testing.T) {
	loadings := []float64{0.7, 0.7, 0.6, 0.6, 0.5, 0.5}
	s := implied(loadings, make([]int, 6), 0, map[[2]int]float64{{1, 2}: 0.15})
	req := ports.CFARequest{Specification: oneFactorSpec(), Covariance: s, N: 300}

	est := NewEstimator()
	m, err := est.FitCFA(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, m.Fit.ChiSquare, 1.0)

	mis, err := est.ModificationIndices(context.Background(), req, m)
	require.NoError(t, err)
	require.NotEmpty(t, mis)
	top := mis[0]
	assert.Equal(t, psychometrics.ParamResidualCovariance, top.Kind)
	assert.Equal(t, "arvis_b", top.Left)
	assert.Equal(t, "arvis_c", top.Right)
	assert.Greater(t, top.EPC, 0.0)
	for i := 1; i < len(mis); i++ {
		assert.GreaterOrEqual(t, mis[i-1].MI, mis[i].MI)
	}

	// freeing the covariance closes the misfit
	fixed := oneFactorSpec(psychometrics.NewItemPair("arvis_b", "arvis_c"))
	req.Specification = fixed
	m2, err := est.FitCFA(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m2.Fit.ChiSquare, 1e-3)
	assert.Equal(t, m.Fit.DF-1, m2.Fit.DF)

	mis2, err := est.ModificationIndices(context.Background(), req, m2)
	require.NoError(t, err)
	for _, mi := range mis2 {
		assert.Less(t, mi.MI, 1e-3, mi.Label())
		assert.False(t, mi.Left == "arvis_b" && mi.Right == "arvis_c")
	}
}

func TestCrossLoadingCandidates(t *testing.T) {
	loadings := []float64{0.8, 0.7, 0.6, 0.75, 0.65, 0.55}
	s := implied(loadings, []int{0, 0, 0, 1, 1, 1}, 0.4, nil)
	req := ports.CFARequest{Specification: twoFactorSpec(), Covariance: s, N: 202}

	est := NewEstimator()
	m, err := est.FitCFA(context.Background(), req)
	require.NoError(t, err)
	mis, err := est.ModificationIndices(context.Background(), req, m)
	require.NoError(t, err)

	loadingsSeen := 0
	for _, mi := range mis {
		if mi.Kind == psychometrics.ParamLoading {
			loadingsSeen++
		}
	}
	assert.Equal(t, 6, loadingsSeen)
}

func TestUnidentifiedSpecification(t *testing.T) {
	spec := psychometrics.NewCFASpecification("tiny", []psychometrics.LatentFactor{
		{Name: "f", Indicators: indicators[:2]},
	}, nil)
	s := implied([]float64{0.7, 0.7}, []int{0, 0}, 0, nil)

	_, err := NewEstimator().FitCFA(context.Background(), ports.CFARequest{Specification: spec, Covariance: s, N: 100})
	require.Error(t, err)
	assert.True(t, core.IsAssumptionViolation(err))
}

func TestCovarianceShapeMismatch(t *testing.T) {
	_, err := NewEstimator().FitCFA(context.Background(), ports.CFARequest{Specification: twoFactorSpec(), Covariance: mat.NewSymDense(3, nil), N: 100})
	assert.Error(t, err)
}

func TestFitIsIdempotent(t *testing.T) {
	loadings := []float64{0.7, 0.7, 0.6, 0.6, 0.5, 0.5}
	s := implied(loadings, make([]int, 6), 0, map[[2]int]float64{{0, 5}: 0.1})
	req := ports.CFARequest{Specification: oneFactorSpec(), Covariance: s, N: 250}

	a, err := NewEstimator().FitCFA(context.Background(), req)
	require.NoError(t, err)
	b, err := NewEstimator().FitCFA(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Fit, b.Fit)
	assert.Equal(t, a.Loadings, b.Loadings)
}
