package cfa

import (
	"context"
	"fmt"
	"sort"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
	"arvis/ports"

	"gonum.org/v1/gonum/mat"
)

// ModificationIndices scores every fixed residual covariance and cross-loading
// of a fitted model. MI is the score statistic N·(g/2)²/V where g is the
// derivative of the discrepancy and V the conditional information of the
// fixed parameter given the free ones. Results are sorted by descending MI.
func (e *Estimator) ModificationIndices(ctx context.Context, req ports.CFARequest, model psychometrics.FactorModel) ([]psychometrics.ModificationIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sol, err := restore(req, model)
	if err != nil {
		return nil, err
	}
	lay := sol.layout

	freeProds := make([]*mat.Dense, len(lay.params))
	for a, par := range lay.params {
		var m mat.Dense
		m.Mul(sol.inv, delta(par, sol.lambda, sol.phi))
		freeProds[a] = &m
	}
	info := information(sol, lay.params)
	var chol mat.Cholesky
	if !chol.Factorize(info) {
		return nil, core.NewSingularMatrixError("information matrix", lay.items)
	}

	var out []psychometrics.ModificationIndex
	for _, c := range candidates(model.Specification, lay) {
		d := delta(c, sol.lambda, sol.phi)
		g := traceProduct(sol.w, d)

		var pc mat.Dense
		pc.Mul(sol.inv, d)
		icc := 0.5 * traceDense(&pc, &pc)
		ifc := mat.NewVecDense(len(lay.params), nil)
		for a := range lay.params {
			ifc.SetVec(a, 0.5*traceDense(freeProds[a], &pc))
		}
		var solved mat.VecDense
		if err := chol.SolveVecTo(&solved, ifc); err != nil {
			return nil, core.NewSingularMatrixError("information matrix", lay.items)
		}
		v := icc - mat.Dot(ifc, &solved)
		if v <= 1e-12 {
			// the candidate is not identified alongside the free parameters
			continue
		}

		mi := psychometrics.ModificationIndex{
			Kind: c.kind,
			MI:   float64(req.N) * (0.5 * g) * (0.5 * g) / v,
			EPC:  -0.5 * g / v,
		}
		if c.kind == psychometrics.ParamLoading {
			mi.Left, mi.Right = lay.factors[c.j], lay.items[c.i]
		} else {
			mi.Left, mi.Right = lay.items[c.i], lay.items[c.j]
		}
		out = append(out, mi)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MI != out[j].MI {
			return out[i].MI > out[j].MI
		}
		return out[i].Label() < out[j].Label()
	})
	return out, nil
}

// candidates lists fixed parameters: absent residual covariances and cross-loadings
func candidates(spec *psychometrics.CFASpecification, lay *layout) []param {
	var out []param
	for i := 0; i < lay.p(); i++ {
		for j := i + 1; j < lay.p(); j++ {
			if spec != nil && spec.HasResidualCovariance(psychometrics.NewItemPair(lay.items[i], lay.items[j])) {
				continue
			}
			out = append(out, param{kind: psychometrics.ParamResidualCovariance, i: i, j: j})
		}
	}
	for i := 0; i < lay.p(); i++ {
		for a := 0; a < lay.k(); a++ {
			if a != lay.owner[i] {
				out = append(out, param{kind: psychometrics.ParamLoading, i: i, j: a})
			}
		}
	}
	return out
}

// restore rebuilds the solution of a fitted model from its parameter table
func restore(req ports.CFARequest, model psychometrics.FactorModel) (*solution, error) {
	if model.Specification == nil {
		return nil, fmt.Errorf("%s: model carries no specification", model.Label)
	}
	lay := newLayout(*model.Specification)
	if len(model.Parameters) != len(lay.params) {
		return nil, fmt.Errorf("%s: %d parameters for a layout of %d", model.Label, len(model.Parameters), len(lay.params))
	}
	if req.Covariance == nil || req.Covariance.SymmetricDim() != lay.p() {
		return nil, fmt.Errorf("%s: covariance matrix does not match %d indicators", model.Label, lay.p())
	}
	x := make([]float64, len(lay.params))
	for n, p := range model.Parameters {
		x[n] = p.Estimate
	}
	lambda, phi, theta := lay.unpack(x)
	sig := sigma(lambda, phi, theta)
	w, inv, ok := weight(sig, req.Covariance)
	if !ok {
		return nil, core.NewSingularMatrixError("implied covariance of "+model.Label, lay.items)
	}
	return &solution{layout: lay, x: x, lambda: lambda, phi: phi, theta: theta, sigma: sig, inv: inv, w: w, fmin: model.Fit.Objective}, nil
}

// traceDense is tr(A B) for square matrices
func traceDense(a, b *mat.Dense) float64 {
	n, _ := a.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum += a.At(i, j) * b.At(j, i)
		}
	}
	return sum
}
