package efa

import (
	"math"
	"sort"

	"arvis/domain/psychometrics"

	"gonum.org/v1/gonum/mat"
)

const (
	rotationEps   = 1e-5
	geominDelta   = 0.01
	varimaxEps    = 1e-5
	maxRotationIt = 1000
)

// criterion returns the gradient of a rotation criterion at L and its value
type criterion func(l *mat.Dense) (*mat.Dense, float64)

// rotate applies the named rotation to unrotated loadings. It returns the
// rotated pattern, the factor correlation matrix and whether the iteration
// converged.
func rotate(a *mat.Dense, rotation psychometrics.Rotation, maxIter int) (*mat.Dense, *mat.Dense, bool) {
	_, k := a.Dims()
	if k < 2 || rotation == psychometrics.RotationNone || rotation == "" {
		return mat.DenseCopyOf(a), identity(k), true
	}
	if maxIter <= 0 {
		maxIter = maxRotationIt
	}
	switch rotation {
	case psychometrics.RotationVarimax:
		l, ok := varimax(a, maxIter)
		return l, identity(k), ok
	case psychometrics.RotationGeomin:
		return obliqueGP(a, geomin, maxIter)
	default:
		// oblimin with gamma 0 is quartimin
		return obliqueGP(a, oblimin(0), maxIter)
	}
}

// obliqueGP is the gradient projection algorithm for oblique rotation
func obliqueGP(a *mat.Dense, vgQ criterion, maxIter int) (*mat.Dense, *mat.Dense, bool) {
	_, k := a.Dims()
	t := identity(k)

	l, ok := pattern(a, t)
	if !ok {
		return mat.DenseCopyOf(a), identity(k), false
	}
	gq, f := vgQ(l)
	g, ok := projectGradient(l, gq, t)
	if !ok {
		return mat.DenseCopyOf(a), identity(k), false
	}

	al := 1.0
	converged := false
	for iter := 0; iter <= maxIter; iter++ {
		// Gp = G - T diag(colSums(T ∘ G))
		gp := mat.NewDense(k, k, nil)
		for j := 0; j < k; j++ {
			c := 0.0
			for i := 0; i < k; i++ {
				c += t.At(i, j) * g.At(i, j)
			}
			for i := 0; i < k; i++ {
				gp.Set(i, j, g.At(i, j)-t.At(i, j)*c)
			}
		}
		s := mat.Norm(gp, 2)
		if s < rotationEps {
			converged = true
			break
		}

		al *= 2
		var (
			tt  *mat.Dense
			lt  *mat.Dense
			gqt *mat.Dense
			ft  float64
		)
		for i := 0; i <= 10; i++ {
			x := mat.NewDense(k, k, nil)
			x.Scale(-al, gp)
			x.Add(t, x)
			tt = normalizeColumns(x)
			lt, ok = pattern(a, tt)
			if !ok {
				return l, phiOf(t), false
			}
			gqt, ft = vgQ(lt)
			if f-ft > 0.5*s*s*al {
				break
			}
			al /= 2
		}
		t, l, f = tt, lt, ft
		g, ok = projectGradient(l, gqt, t)
		if !ok {
			return l, phiOf(t), false
		}
	}
	return l, phiOf(t), converged
}

// pattern computes L = A (T^-1)'
func pattern(a, t *mat.Dense) (*mat.Dense, bool) {
	var inv mat.Dense
	if err := inv.Inverse(t); err != nil {
		return nil, false
	}
	var l mat.Dense
	l.Mul(a, inv.T())
	return &l, true
}

// projectGradient computes G = -(L' Gq T^-1)'
func projectGradient(l, gq, t *mat.Dense) (*mat.Dense, bool) {
	var inv mat.Dense
	if err := inv.Inverse(t); err != nil {
		return nil, false
	}
	var lg, m mat.Dense
	lg.Mul(l.T(), gq)
	m.Mul(&lg, &inv)
	_, k := m.Dims()
	g := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			g.Set(i, j, -m.At(j, i))
		}
	}
	return g, true
}

func phiOf(t *mat.Dense) *mat.Dense {
	var phi mat.Dense
	phi.Mul(t.T(), t)
	return &phi
}

func normalizeColumns(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		norm := 0.0
		for i := 0; i < r; i++ {
			norm += x.At(i, j) * x.At(i, j)
		}
		norm = math.Sqrt(norm)
		for i := 0; i < r; i++ {
			out.Set(i, j, x.At(i, j)/norm)
		}
	}
	return out
}

// oblimin criterion; gamma 0 gives quartimin
func oblimin(gamma float64) criterion {
	return func(l *mat.Dense) (*mat.Dense, float64) {
		p, k := l.Dims()
		l2 := mat.NewDense(p, k, nil)
		l2.MulElem(l, l)

		// X = L² N, N = 1 - I
		x := mat.NewDense(p, k, nil)
		for i := 0; i < p; i++ {
			rowSum := 0.0
			for j := 0; j < k; j++ {
				rowSum += l2.At(i, j)
			}
			for j := 0; j < k; j++ {
				x.Set(i, j, rowSum-l2.At(i, j))
			}
		}
		if gamma != 0 {
			for j := 0; j < k; j++ {
				mean := 0.0
				for i := 0; i < p; i++ {
					mean += x.At(i, j)
				}
				mean /= float64(p)
				for i := 0; i < p; i++ {
					x.Set(i, j, x.At(i, j)-gamma*mean)
				}
			}
		}
		gq := mat.NewDense(p, k, nil)
		gq.MulElem(l, x)
		f := 0.0
		for i := 0; i < p; i++ {
			for j := 0; j < k; j++ {
				f += l2.At(i, j) * x.At(i, j)
			}
		}
		return gq, f / 4
	}
}

// geomin criterion with the conventional delta of 0.01
func geomin(l *mat.Dense) (*mat.Dense, float64) {
	p, k := l.Dims()
	gq := mat.NewDense(p, k, nil)
	f := 0.0
	for i := 0; i < p; i++ {
		logSum := 0.0
		for j := 0; j < k; j++ {
			logSum += math.Log(l.At(i, j)*l.At(i, j) + geominDelta)
		}
		pro := math.Exp(logSum / float64(k))
		f += pro
		for j := 0; j < k; j++ {
			v := l.At(i, j)
			gq.Set(i, j, (2/float64(k))*(v/(v*v+geominDelta))*pro)
		}
	}
	return gq, f
}

// varimax with Kaiser normalization, iterated through the SVD update
func varimax(a *mat.Dense, maxIter int) (*mat.Dense, bool) {
	p, k := a.Dims()
	sc := make([]float64, p)
	x := mat.NewDense(p, k, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < k; j++ {
			sc[i] += a.At(i, j) * a.At(i, j)
		}
		sc[i] = math.Sqrt(sc[i])
		for j := 0; j < k; j++ {
			if sc[i] > 0 {
				x.Set(i, j, a.At(i, j)/sc[i])
			}
		}
	}

	tt := identity(k)
	d := 0.0
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		var z mat.Dense
		z.Mul(x, tt)

		colSq := make([]float64, k)
		for j := 0; j < k; j++ {
			for i := 0; i < p; i++ {
				colSq[j] += z.At(i, j) * z.At(i, j)
			}
		}
		w := mat.NewDense(p, k, nil)
		for i := 0; i < p; i++ {
			for j := 0; j < k; j++ {
				v := z.At(i, j)
				w.Set(i, j, v*v*v-v*colSq[j]/float64(p))
			}
		}
		var b mat.Dense
		b.Mul(x.T(), w)

		var svd mat.SVD
		if !svd.Factorize(&b, mat.SVDThin) {
			break
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		tt.Mul(&u, v.T())

		dPast := d
		d = 0
		for _, s := range svd.Values(nil) {
			d += s
		}
		if d < dPast*(1+varimaxEps) {
			converged = true
			break
		}
	}

	var out mat.Dense
	out.Mul(x, tt)
	for i := 0; i < p; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, out.At(i, j)*sc[i])
		}
	}
	return &out, converged
}

// orderAndReflect sorts factors by descending sum of squared loadings and
// flips each factor so its loadings sum to a positive value
func orderAndReflect(l, phi *mat.Dense) (*mat.Dense, *mat.Dense) {
	p, k := l.Dims()
	ss := make([]float64, k)
	sign := make([]float64, k)
	for j := 0; j < k; j++ {
		sum := 0.0
		for i := 0; i < p; i++ {
			ss[j] += l.At(i, j) * l.At(i, j)
			sum += l.At(i, j)
		}
		sign[j] = 1
		if sum < 0 {
			sign[j] = -1
		}
	}
	order := make([]int, k)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool { return ss[order[a]] > ss[order[b]] })

	outL := mat.NewDense(p, k, nil)
	outPhi := mat.NewDense(k, k, nil)
	for a, src := range order {
		for i := 0; i < p; i++ {
			outL.Set(i, a, sign[src]*l.At(i, src))
		}
		for b, src2 := range order {
			outPhi.Set(a, b, sign[src]*sign[src2]*phi.At(src, src2))
		}
	}
	return outL, outPhi
}

func identity(k int) *mat.Dense {
	m := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		m.Set(i, i, 1)
	}
	return m
}
