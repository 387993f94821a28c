package cfa

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
	defaultMaxIterations = 2000
	gradientTolerance    = 1e-4
	// returned for parameter values whose implied covariance is not positive definite
	infeasible = 1e10
)

// Estimator fits confirmatory factor models by maximum likelihood with
// latent variances fixed to one
type Estimator struct {
	dist *distributions.StatisticalDistributions
}

// NewEstimator creates an ML CFA estimator
func NewEstimator() *Estimator {
	return &Estimator{dist: distributions.New()}
}

var _ ports.SEMEstimator = (*Estimator)(nil)

// solution holds everything derived from the optimum
type solution struct {
	layout *layout
	x      []float64
	lambda *mat.Dense
	phi    *mat.SymDense
	theta  *mat.SymDense
	sigma  *mat.SymDense
	inv    *mat.SymDense
	w      *mat.SymDense // Σ^-1 (Σ - S) Σ^-1
	fmin   float64
	iter   int
}

type objective struct {
	layout  *layout
	s       *mat.SymDense
	logDetS float64
}

func (o *objective) value(x []float64) float64 {
	lambda, phi, theta := o.layout.unpack(x)
	sig := sigma(lambda, phi, theta)
	var chol mat.Cholesky
	if !chol.Factorize(sig) {
		return infeasible
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return infeasible
	}
	return chol.LogDet() + traceProduct(o.s, &inv) - o.logDetS - float64(o.layout.p())
}

func (o *objective) gradient(grad, x []float64) {
	lambda, phi, theta := o.layout.unpack(x)
	w, _, ok := weight(sigma(lambda, phi, theta), o.s)
	if !ok {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	for n, par := range o.layout.params {
		grad[n] = traceProduct(w, delta(par, lambda, phi))
	}
}

// weight returns W = Σ^-1 (Σ - S) Σ^-1 and Σ^-1
func weight(sig, s *mat.SymDense) (*mat.SymDense, *mat.SymDense, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(sig) {
		return nil, nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, nil, false
	}
	p := sig.SymmetricDim()
	diff := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			diff.SetSym(i, j, sig.At(i, j)-s.At(i, j))
		}
	}
	var tmp, full mat.Dense
	tmp.Mul(&inv, diff)
	full.Mul(&tmp, &inv)
	w := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			w.SetSym(i, j, (full.At(i, j)+full.At(j, i))/2)
		}
	}
	return w, &inv, true
}

// FitCFA estimates the specification against an N-divisor covariance matrix
// whose rows follow Specification.Items()
func (e *Estimator) FitCFA(ctx context.Context, req ports.CFARequest) (psychometrics.FactorModel, error) {
	sol, err := e.solve(ctx, req)
	if err != nil {
		return psychometrics.FactorModel{}, err
	}
	return e.model(req, sol)
}

func (e *Estimator) solve(ctx context.Context, req ports.CFARequest) (*solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec := req.Specification
	lay := newLayout(spec)
	p := lay.p()
	if req.Covariance == nil || req.Covariance.SymmetricDim() != p {
		return nil, fmt.Errorf("%s: covariance matrix does not match %d indicators", spec.ID(), p)
	}
	if err := checkIdentified(spec, lay); err != nil {
		return nil, err
	}

	var cholS mat.Cholesky
	if !cholS.Factorize(req.Covariance) {
		return nil, core.NewSingularMatrixError("sample covariance of "+spec.ID(), lay.items)
	}
	obj := &objective{layout: lay, s: req.Covariance, logDetS: cholS.LogDet()}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	res, err := optimize.Minimize(optimize.Problem{
		Func: obj.value,
		Grad: obj.gradient,
	}, lay.start(req.Covariance), &optimize.Settings{
		MajorIterations: maxIter,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-12, Iterations: 25},
	}, &optimize.BFGS{GradStopThreshold: 1e-9})
	if res == nil {
		return nil, core.NewConvergenceError(spec.ID(), lay.items, 0, err)
	}
	if err != nil || res.Status.Early() || res.F >= infeasible {
		grad := make([]float64, len(res.X))
		obj.gradient(grad, res.X)
		if res.F >= infeasible || maxAbs(grad) > gradientTolerance {
			cause := err
			if cause == nil {
				cause = res.Status.Err()
			}
			return nil, core.NewConvergenceError(spec.ID(), lay.items, res.MajorIterations, cause)
		}
	}

	lambda, phi, theta := lay.unpack(res.X)
	sig := sigma(lambda, phi, theta)
	w, inv, ok := weight(sig, req.Covariance)
	if !ok {
		return nil, core.NewSingularMatrixError("implied covariance of "+spec.ID(), lay.items)
	}
	return &solution{
		layout: lay, x: res.X, lambda: lambda, phi: phi, theta: theta,
		sigma: sig, inv: inv, w: w, fmin: res.F, iter: res.MajorIterations,
	}, nil
}

// checkIdentified requires non-negative df and enough indicators per factor
func checkIdentified(spec psychometrics.CFASpecification, lay *layout) error {
	p := lay.p()
	df := p*(p+1)/2 - len(lay.params)
	if df < 0 {
		return core.NewAssumptionViolation("model identification",
			fmt.Sprintf("%s has %d free parameters for %d moments", spec.ID(), len(lay.params), p*(p+1)/2))
	}
	for _, f := range spec.Factors {
		need := 2
		if len(spec.Factors) == 1 {
			need = 3
		}
		if len(f.Indicators) < need {
			return core.NewAssumptionViolation("model identification",
				fmt.Sprintf("%s: factor %s has %d indicators, needs %d", spec.ID(), f.Name, len(f.Indicators), need))
		}
	}
	return nil
}

func (e *Estimator) model(req ports.CFARequest, sol *solution) (psychometrics.FactorModel, error) {
	lay := sol.layout
	p, k := lay.p(), lay.k()
	spec := req.Specification

	se, err := standardErrors(sol, req.N)
	if err != nil {
		return psychometrics.FactorModel{}, err
	}

	sd := make([]float64, p)
	for i := 0; i < p; i++ {
		sd[i] = math.Sqrt(sol.sigma.At(i, i))
	}

	m := psychometrics.FactorModel{
		Label:              spec.ID(),
		Method:             "ml",
		Items:              append([]string(nil), lay.items...),
		Factors:            append([]string(nil), lay.factors...),
		Loadings:           make([][]float64, p),
		FactorCorrelations: make([][]float64, k),
		Uniquenesses:       make([]float64, p),
		Iterations:         sol.iter,
		Specification:      &spec,
	}
	for i := 0; i < p; i++ {
		m.Loadings[i] = make([]float64, k)
		for a := 0; a < k; a++ {
			m.Loadings[i][a] = sol.lambda.At(i, a) / sd[i]
		}
		m.Uniquenesses[i] = sol.theta.At(i, i) / sol.sigma.At(i, i)
	}
	for a := 0; a < k; a++ {
		m.FactorCorrelations[a] = make([]float64, k)
		for b := 0; b < k; b++ {
			m.FactorCorrelations[a][b] = sol.phi.At(a, b)
		}
	}

	for n, par := range lay.params {
		row := psychometrics.Parameter{Kind: par.kind, Estimate: sol.x[n], StdError: se[n], Free: true}
		switch par.kind {
		case psychometrics.ParamLoading:
			row.Left, row.Right = lay.factors[par.j], lay.items[par.i]
			row.Standardized = sol.x[n] / sd[par.i]
		case psychometrics.ParamFactorCorrelation:
			row.Left, row.Right = lay.factors[par.i], lay.factors[par.j]
			row.Standardized = sol.x[n]
		case psychometrics.ParamResidualVariance:
			row.Left, row.Right = lay.items[par.i], lay.items[par.i]
			row.Standardized = sol.x[n] / sol.sigma.At(par.i, par.i)
		case psychometrics.ParamResidualCovariance:
			row.Left, row.Right = lay.items[par.i], lay.items[par.j]
			row.Standardized = sol.x[n] / math.Sqrt(sol.theta.At(par.i, par.i)*sol.theta.At(par.j, par.j))
		}
		m.Parameters = append(m.Parameters, row)
	}

	m.Fit = e.fitIndices(req, sol)
	m.Warnings = degenerate(m)
	return m, nil
}

// fitIndices computes the likelihood-ratio test against the saturated model
// and the incremental indices against the independence model
func (e *Estimator) fitIndices(req ports.CFARequest, sol *solution) psychometrics.FitIndices {
	p := sol.layout.p()
	n := float64(req.N)
	q := len(sol.layout.params)
	df := p*(p+1)/2 - q

	fit := psychometrics.FitIndices{
		N:              req.N,
		DF:             df,
		Objective:      sol.fmin,
		FreeParameters: q,
		ChiSquare:      math.Max(n*sol.fmin, 0),
		NullDF:         p * (p - 1) / 2,
	}

	s := req.Covariance
	var cholS mat.Cholesky
	cholS.Factorize(s)
	nullF := -cholS.LogDet()
	for i := 0; i < p; i++ {
		nullF += math.Log(s.At(i, i))
	}
	fit.NullChiSquare = n * nullF

	if df > 0 {
		fit.PValue = e.dist.ChiSquarePValue(fit.ChiSquare, df)
		fit.RMSEA = e.dist.RMSEA(fit.ChiSquare, df, n)
		fit.RMSEALower, fit.RMSEAUpper = e.dist.RMSEAInterval(fit.ChiSquare, df, n, 0.90)
		nullRatio := fit.NullChiSquare / float64(fit.NullDF)
		if nullRatio != 1 {
			fit.TLI = (nullRatio - fit.ChiSquare/float64(df)) / (nullRatio - 1)
		}
	} else {
		fit.PValue = 1
		fit.TLI = 1
	}
	num := math.Max(fit.ChiSquare-float64(df), 0)
	den := math.Max(math.Max(fit.NullChiSquare-float64(fit.NullDF), fit.ChiSquare-float64(df)), 0)
	fit.CFI = 1
	if den > 0 {
		fit.CFI = 1 - num/den
	}

	// standardized residuals over the lower triangle including the diagonal
	sum := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j <= i; j++ {
			obs := s.At(i, j) / math.Sqrt(s.At(i, i)*s.At(j, j))
			imp := sol.sigma.At(i, j) / math.Sqrt(sol.sigma.At(i, i)*sol.sigma.At(j, j))
			sum += (obs - imp) * (obs - imp)
		}
	}
	fit.SRMR = math.Sqrt(sum / float64(p*(p+1)/2))

	// log-likelihood of the fitted model
	var chol mat.Cholesky
	chol.Factorize(sol.sigma)
	logL := -n / 2 * (float64(p)*math.Log(2*math.Pi) + chol.LogDet() + traceProduct(s, sol.inv))
	fit.AIC = -2*logL + 2*float64(q)
	fit.BIC = -2*logL + float64(q)*math.Log(n)
	return fit
}

// information computes the per-observation expected information
// 0.5·tr(Σ^-1 Δa Σ^-1 Δb) over the given parameters
func information(sol *solution, params []param) *mat.SymDense {
	q := len(params)
	prods := make([]*mat.Dense, q)
	for a, par := range params {
		var m mat.Dense
		m.Mul(sol.inv, delta(par, sol.lambda, sol.phi))
		prods[a] = &m
	}
	info := mat.NewSymDense(q, nil)
	p := sol.layout.p()
	for a := 0; a < q; a++ {
		for b := a; b < q; b++ {
			tr := 0.0
			for i := 0; i < p; i++ {
				for j := 0; j < p; j++ {
					tr += prods[a].At(i, j) * prods[b].At(j, i)
				}
			}
			info.SetSym(a, b, 0.5*tr)
		}
	}
	return info
}

func standardErrors(sol *solution, n int) ([]float64, error) {
	info := information(sol, sol.layout.params)
	var chol mat.Cholesky
	if !chol.Factorize(info) {
		return nil, core.NewSingularMatrixError("information matrix", sol.layout.items)
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, core.NewSingularMatrixError("information matrix", sol.layout.items)
	}
	out := make([]float64, len(sol.layout.params))
	for i := range out {
		out[i] = math.Sqrt(cov.At(i, i) / float64(n))
	}
	return out, nil
}

// degenerate flags negative residual variances, standardized loadings above
// one and inter-factor correlations outside [-1, 1]
func degenerate(m psychometrics.FactorModel) []psychometrics.DegenerateSolutionWarning {
	var out []psychometrics.DegenerateSolutionWarning
	for i, item := range m.Items {
		u := m.Uniquenesses[i]
		switch {
		case u < 0:
			out = append(out, psychometrics.DegenerateSolutionWarning{
				Item: item, Kind: psychometrics.WarningNegativeVariance, Value: u,
				Message: fmt.Sprintf("%s: negative residual variance %.3f in %s", item, u, m.Label),
			})
		case u < 0.005:
			out = append(out, psychometrics.DegenerateSolutionWarning{
				Item: item, Kind: psychometrics.WarningHeywood, Value: u,
				Message: fmt.Sprintf("%s: residual variance %.4f near zero in %s", item, u, m.Label),
			})
		}
		for _, l := range m.Loadings[i] {
			if math.Abs(l) > 1 {
				out = append(out, psychometrics.DegenerateSolutionWarning{
					Item: item, Kind: psychometrics.WarningUltraHeywood, Value: l,
					Message: fmt.Sprintf("%s: standardized loading %.3f exceeds 1 in %s", item, l, m.Label),
				})
			}
		}
	}
	for a := range m.FactorCorrelations {
		for b := a + 1; b < len(m.FactorCorrelations); b++ {
			if r := m.FactorCorrelations[a][b]; math.Abs(r) > 1 {
				out = append(out, psychometrics.DegenerateSolutionWarning{
					Item: m.Factors[a] + " ~~ " + m.Factors[b], Kind: psychometrics.WarningUltraHeywood, Value: r,
					Message: fmt.Sprintf("factor correlation %.3f outside [-1, 1] in %s", r, m.Label),
				})
			}
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
