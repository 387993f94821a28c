package efa

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// uniquenessFloor is the smallest uniqueness the optimizer may reach; a
// solution sitting on it is a Heywood case.
const uniquenessFloor = 0.005

// mlProblem is the concentrated maximum-likelihood discrepancy of a k-factor
// model for a correlation matrix, as a function of the uniquenesses only.
// Uniquenesses are mapped from unbounded x through a logistic onto
// (uniquenessFloor, 1) so the optimizer never leaves the admissible region.
type mlProblem struct {
	r *mat.SymDense
	p int
	k int
}

func (m *mlProblem) psi(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = uniquenessFloor + (1-uniquenessFloor)/(1+math.Exp(-v))
	}
	return out
}

// unpsi inverts psi for starting values
func (m *mlProblem) unpsi(psi []float64) []float64 {
	out := make([]float64, len(psi))
	for i, v := range psi {
		t := (v - uniquenessFloor) / (1 - uniquenessFloor)
		t = math.Min(math.Max(t, 1e-4), 1-1e-4)
		out[i] = math.Log(t / (1 - t))
	}
	return out
}

// scaledEigen decomposes Ψ^-1/2 R Ψ^-1/2. Values are ascending.
func (m *mlProblem) scaledEigen(psi []float64, vectors bool) ([]float64, *mat.Dense, bool) {
	s := mat.NewSymDense(m.p, nil)
	for i := 0; i < m.p; i++ {
		for j := i; j < m.p; j++ {
			s.SetSym(i, j, m.r.At(i, j)/math.Sqrt(psi[i]*psi[j]))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(s, vectors) {
		return nil, nil, false
	}
	values := eig.Values(nil)
	if !vectors {
		return values, nil, true
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	return values, &vecs, true
}

// objective is Σ over the p-k smallest eigenvalues of (e - ln e - 1)
func (m *mlProblem) objective(x []float64) float64 {
	values, _, ok := m.scaledEigen(m.psi(x), false)
	if !ok {
		return math.Inf(1)
	}
	return discrepancy(values, m.k)
}

func discrepancy(ascending []float64, k int) float64 {
	f := 0.0
	for j := 0; j < len(ascending)-k; j++ {
		e := ascending[j]
		if e <= 0 {
			return math.Inf(1)
		}
		f += e - math.Log(e) - 1
	}
	return f
}

// loadings builds the unrotated p×k loading matrix implied by the uniquenesses
func (m *mlProblem) loadings(psi []float64) (*mat.Dense, bool) {
	values, vecs, ok := m.scaledEigen(psi, true)
	if !ok {
		return nil, false
	}
	l := mat.NewDense(m.p, m.k, nil)
	for f := 0; f < m.k; f++ {
		idx := m.p - 1 - f
		scale := math.Sqrt(math.Max(values[idx]-1, 0))
		for i := 0; i < m.p; i++ {
			l.Set(i, f, math.Sqrt(psi[i])*vecs.At(i, idx)*scale)
		}
	}
	return l, true
}

// gradient of the objective with respect to x: diag(ΛΛ' + Ψ - R) / Ψ², times dΨ/dx
func (m *mlProblem) gradient(grad, x []float64) {
	psi := m.psi(x)
	l, ok := m.loadings(psi)
	if !ok {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	for i := 0; i < m.p; i++ {
		comm := 0.0
		for f := 0; f < m.k; f++ {
			comm += l.At(i, f) * l.At(i, f)
		}
		g := (comm + psi[i] - m.r.At(i, i)) / (psi[i] * psi[i])
		dpsi := (psi[i] - uniquenessFloor) * (1 - psi[i]) / (1 - uniquenessFloor)
		grad[i] = g * dpsi
	}
}

// startingUniquenesses follows the usual (1 - k/2p) / diag(R^-1) start
func startingUniquenesses(r *mat.SymDense, k int) ([]float64, bool) {
	p := r.SymmetricDim()
	var chol mat.Cholesky
	if !chol.Factorize(r) {
		return nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, false
	}
	out := make([]float64, p)
	for i := 0; i < p; i++ {
		v := (1 - 0.5*float64(k)/float64(p)) / inv.At(i, i)
		out[i] = math.Min(math.Max(v, uniquenessFloor), 1)
	}
	return out, true
}
