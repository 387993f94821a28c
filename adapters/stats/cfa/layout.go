package cfa

import (
	"math"

	"arvis/domain/psychometrics"

	"gonum.org/v1/gonum/mat"
)

// param addresses one model parameter. For loadings i is the item and j the
// factor; for factor correlations both are factors; for residual terms both
// are items.
type param struct {
	kind psychometrics.ParameterKind
	i, j int
}

// layout maps a specification onto a flat parameter vector
type layout struct {
	items   []string
	factors []string
	owner   []int // factor index of each item
	params  []param
}

func newLayout(spec psychometrics.CFASpecification) *layout {
	l := &layout{items: spec.Items()}
	itemIdx := make(map[string]int, len(l.items))
	for i, it := range l.items {
		itemIdx[it] = i
	}
	l.owner = make([]int, len(l.items))
	for a, f := range spec.Factors {
		l.factors = append(l.factors, f.Name)
		for _, it := range f.Indicators {
			l.owner[itemIdx[it]] = a
		}
	}
	for i := range l.items {
		l.params = append(l.params, param{kind: psychometrics.ParamLoading, i: i, j: l.owner[i]})
	}
	for a := 0; a < len(l.factors); a++ {
		for b := a + 1; b < len(l.factors); b++ {
			l.params = append(l.params, param{kind: psychometrics.ParamFactorCorrelation, i: a, j: b})
		}
	}
	for i := range l.items {
		l.params = append(l.params, param{kind: psychometrics.ParamResidualVariance, i: i, j: i})
	}
	for _, pair := range spec.ResidualCovariances {
		l.params = append(l.params, param{kind: psychometrics.ParamResidualCovariance, i: itemIdx[pair.A], j: itemIdx[pair.B]})
	}
	return l
}

func (l *layout) p() int { return len(l.items) }
func (l *layout) k() int { return len(l.factors) }

// unpack returns Λ (p×k), Φ (k×k, unit diagonal) and Θ (p×p)
func (l *layout) unpack(x []float64) (*mat.Dense, *mat.SymDense, *mat.SymDense) {
	lambda := mat.NewDense(l.p(), l.k(), nil)
	phi := mat.NewSymDense(l.k(), nil)
	for a := 0; a < l.k(); a++ {
		phi.SetSym(a, a, 1)
	}
	theta := mat.NewSymDense(l.p(), nil)
	for n, par := range l.params {
		switch par.kind {
		case psychometrics.ParamLoading:
			lambda.Set(par.i, par.j, x[n])
		case psychometrics.ParamFactorCorrelation:
			phi.SetSym(par.i, par.j, x[n])
		case psychometrics.ParamResidualVariance, psychometrics.ParamResidualCovariance:
			theta.SetSym(par.i, par.j, x[n])
		}
	}
	return lambda, phi, theta
}

// sigma computes the implied covariance ΛΦΛ' + Θ
func sigma(lambda *mat.Dense, phi, theta *mat.SymDense) *mat.SymDense {
	p, _ := lambda.Dims()
	var lp mat.Dense
	lp.Mul(lambda, phi)
	var implied mat.Dense
	implied.Mul(&lp, lambda.T())
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			out.SetSym(i, j, implied.At(i, j)+theta.At(i, j))
		}
	}
	return out
}

// delta is dΣ/dθ for one (possibly fixed) parameter at the current estimates
func delta(par param, lambda *mat.Dense, phi *mat.SymDense) *mat.SymDense {
	p, k := lambda.Dims()
	d := mat.NewSymDense(p, nil)
	switch par.kind {
	case psychometrics.ParamLoading:
		// e_i c' + c e_i', c = (ΛΦ)_{·a}
		c := make([]float64, p)
		for r := 0; r < p; r++ {
			for b := 0; b < k; b++ {
				c[r] += lambda.At(r, b) * phi.At(b, par.j)
			}
		}
		for r := 0; r < p; r++ {
			v := c[r]
			if r == par.i {
				v *= 2
			}
			d.SetSym(par.i, r, v)
		}
	case psychometrics.ParamFactorCorrelation:
		for r := 0; r < p; r++ {
			for s := r; s < p; s++ {
				v := lambda.At(r, par.i)*lambda.At(s, par.j) + lambda.At(r, par.j)*lambda.At(s, par.i)
				d.SetSym(r, s, v)
			}
		}
	case psychometrics.ParamResidualVariance:
		d.SetSym(par.i, par.i, 1)
	case psychometrics.ParamResidualCovariance:
		d.SetSym(par.i, par.j, 1)
	}
	return d
}

// traceProduct is tr(A B) for symmetric A and B
func traceProduct(a, b mat.Symmetric) float64 {
	n := a.SymmetricDim()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum += a.At(i, j) * b.At(j, i)
		}
	}
	return sum
}

// start places loadings at 0.7 sd and residual variances at half the observed variance
func (l *layout) start(s *mat.SymDense) []float64 {
	x := make([]float64, len(l.params))
	for n, par := range l.params {
		switch par.kind {
		case psychometrics.ParamLoading:
			x[n] = 0.7 * math.Sqrt(s.At(par.i, par.i))
		case psychometrics.ParamResidualVariance:
			x[n] = 0.5 * s.At(par.i, par.i)
		}
	}
	return x
}
