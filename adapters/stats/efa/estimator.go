package efa

import (
	"context"
	"fmt"
	"math"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
	"arvis/internal/distributions"
	"arvis/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	defaultMaxIterations = 1000
	// a stalled line search is accepted when the gradient is already this flat
	gradientTolerance = 1e-4
)

// Estimator is the gonum-backed maximum-likelihood exploratory factor estimator
type Estimator struct {
	dist *distributions.StatisticalDistributions
}

// NewEstimator creates an ML EFA estimator
func NewEstimator() *Estimator {
	return &Estimator{dist: distributions.New()}
}

var _ ports.FactorEstimator = (*Estimator)(nil)

// FitEFA extracts k factors by maximum likelihood and rotates them
func (e *Estimator) FitEFA(ctx context.Context, req ports.EFARequest) (psychometrics.FactorModel, error) {
	if err := ctx.Err(); err != nil {
		return psychometrics.FactorModel{}, err
	}
	p, k := len(req.Items), req.Factors
	if req.Correlation == nil || req.Correlation.SymmetricDim() != p {
		return psychometrics.FactorModel{}, fmt.Errorf("%s: correlation matrix does not match %d items", req.Label, p)
	}
	if k < 1 || k >= p {
		return psychometrics.FactorModel{}, core.NewInsufficientDataError(fmt.Sprintf("%d-factor model over %d items", k, p), p, k+1)
	}
	df := DegreesOfFreedom(p, k)
	if df < 0 {
		return psychometrics.FactorModel{}, core.NewAssumptionViolation("factor identification",
			fmt.Sprintf("%d factors over %d items leave %d degrees of freedom", k, p, df))
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	start, ok := startingUniquenesses(req.Correlation, k)
	if !ok {
		return psychometrics.FactorModel{}, core.NewSingularMatrixError("correlation matrix", req.Items)
	}
	prob := &mlProblem{r: req.Correlation, p: p, k: k}

	res, err := optimize.Minimize(optimize.Problem{
		Func: prob.objective,
		Grad: prob.gradient,
	}, prob.unpsi(start), &optimize.Settings{
		MajorIterations: maxIter,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-12, Iterations: 25},
	}, &optimize.BFGS{GradStopThreshold: 1e-9})
	if res == nil {
		return psychometrics.FactorModel{}, core.NewConvergenceError(req.Label, req.Items, 0, err)
	}
	if err != nil || res.Status.Early() {
		grad := make([]float64, p)
		prob.gradient(grad, res.X)
		if maxAbs(grad) > gradientTolerance {
			cause := err
			if cause == nil {
				cause = res.Status.Err()
			}
			return psychometrics.FactorModel{}, core.NewConvergenceError(req.Label, req.Items, res.MajorIterations, cause)
		}
	}

	psi := prob.psi(res.X)
	unrotated, ok := prob.loadings(psi)
	if !ok {
		return psychometrics.FactorModel{}, core.NewSingularMatrixError("scaled correlation matrix", req.Items)
	}

	rotation := req.Rotation
	if k == 1 {
		rotation = psychometrics.RotationNone
	}
	rotated, phi, rotConverged := rotate(unrotated, rotation, maxIter)
	rotated, phi = orderAndReflect(rotated, phi)

	model := psychometrics.FactorModel{
		Label:              req.Label,
		Method:             "ml",
		Rotation:           rotation,
		Items:              append([]string(nil), req.Items...),
		Factors:            factorNames(k),
		Loadings:           rows(rotated),
		FactorCorrelations: rows(phi),
		Uniquenesses:       psi,
		Iterations:         res.MajorIterations,
	}
	model.Fit = e.fitIndices(req, res.F, unrotated, psi)
	model.Warnings = degenerate(model)
	if !rotConverged {
		model.Warnings = append(model.Warnings, psychometrics.DegenerateSolutionWarning{
			Kind:    psychometrics.WarningRotation,
			Message: fmt.Sprintf("%s rotation of %s did not converge", rotation, req.Label),
		})
	}
	return model, nil
}

// DegreesOfFreedom of a k-factor ML model over p items
func DegreesOfFreedom(p, k int) int {
	return ((p-k)*(p-k) - (p + k)) / 2
}

// fitIndices follows the Bartlett-corrected likelihood-ratio statistic.
// BIC is chi-square minus df·ln(N), so lower values favour a model.
func (e *Estimator) fitIndices(req ports.EFARequest, objective float64, l *mat.Dense, psi []float64) psychometrics.FitIndices {
	p, k := len(req.Items), req.Factors
	n := float64(req.N)
	df := DegreesOfFreedom(p, k)

	fit := psychometrics.FitIndices{
		N:              req.N,
		DF:             df,
		Objective:      objective,
		FreeParameters: p*k + p - k*(k-1)/2,
	}
	fit.ChiSquare = (n - 1 - float64(2*p+5)/6 - 2*float64(k)/3) * objective
	if fit.ChiSquare < 0 {
		fit.ChiSquare = 0
	}

	logDet, _ := mat.LogDet(req.Correlation)
	fit.NullDF = p * (p - 1) / 2
	fit.NullChiSquare = (n - 1 - float64(2*p+5)/6) * -logDet

	if df > 0 {
		fit.PValue = e.dist.ChiSquarePValue(fit.ChiSquare, df)
		fit.RMSEA = e.dist.RMSEA(fit.ChiSquare, df, n-1)
		fit.RMSEALower, fit.RMSEAUpper = e.dist.RMSEAInterval(fit.ChiSquare, df, n-1, 0.90)
		nullRatio := fit.NullChiSquare / float64(fit.NullDF)
		if nullRatio != 1 {
			fit.TLI = (nullRatio - fit.ChiSquare/float64(df)) / (nullRatio - 1)
		}
	} else {
		// saturated: nothing to test
		fit.PValue = 1
	}
	fit.CFI = comparativeFit(fit.ChiSquare, float64(df), fit.NullChiSquare, float64(fit.NullDF))
	fit.BIC = fit.ChiSquare - float64(df)*math.Log(n)
	fit.AIC = fit.ChiSquare - 2*float64(df)
	fit.SRMR = srmr(req.Correlation, l, psi)
	return fit
}

func comparativeFit(chi, df, nullChi, nullDF float64) float64 {
	num := math.Max(chi-df, 0)
	den := math.Max(math.Max(nullChi-nullDF, chi-df), 0)
	if den == 0 {
		return 1
	}
	return 1 - num/den
}

// srmr over the lower triangle including the diagonal
func srmr(r *mat.SymDense, l *mat.Dense, psi []float64) float64 {
	p, k := l.Dims()
	sum, count := 0.0, 0
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			implied := 0.0
			for f := 0; f < k; f++ {
				implied += l.At(i, f) * l.At(j, f)
			}
			if i == j {
				implied += psi[i]
			}
			d := r.At(i, j) - implied
			sum += d * d
			count++
		}
	}
	return math.Sqrt(sum / float64(count))
}

// degenerate reports uniquenesses pinned at the floor and communalities at or above one
func degenerate(m psychometrics.FactorModel) []psychometrics.DegenerateSolutionWarning {
	var out []psychometrics.DegenerateSolutionWarning
	k := len(m.Factors)
	for i, item := range m.Items {
		comm := 0.0
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				comm += m.Loadings[i][a] * m.Loadings[i][b] * m.FactorCorrelations[a][b]
			}
		}
		switch {
		case comm > 1+1e-6:
			out = append(out, psychometrics.DegenerateSolutionWarning{
				Item: item, Kind: psychometrics.WarningUltraHeywood, Value: comm,
				Message: fmt.Sprintf("%s: communality %.3f exceeds 1 in %s", item, comm, m.Label),
			})
		case m.Uniquenesses[i] <= uniquenessFloor+1e-4:
			out = append(out, psychometrics.DegenerateSolutionWarning{
				Item: item, Kind: psychometrics.WarningHeywood, Value: m.Uniquenesses[i],
				Message: fmt.Sprintf("%s: uniqueness %.4f at its lower bound in %s", item, m.Uniquenesses[i], m.Label),
			})
		}
	}
	return out
}

func factorNames(k int) []string {
	out := make([]string, k)
	for i := range out {
		out[i] = fmt.Sprintf("F%d", i+1)
	}
	return out
}

func rows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
