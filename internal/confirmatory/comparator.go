// Package confirmatory fits, compares and revises confirmatory factor models
// and selects the final specification.
package confirmatory

import (
	"context"
	"fmt"
	"sort"

	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"
	"arvis/internal/distributions"
	"arvis/ports"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Comparator fits specifications through an SEM estimator
type Comparator struct {
	sem           ports.SEMEstimator
	dist          *distributions.StatisticalDistributions
	maxIterations int
	logger        *internal.Logger
}

// NewComparator creates a confirmatory model comparator
func NewComparator(sem ports.SEMEstimator, maxIterations int, logger *internal.Logger) *Comparator {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Comparator{
		sem:           sem,
		dist:          distributions.New(),
		maxIterations: maxIterations,
		logger:        logger.Scoped("confirmatory"),
	}
}

// request builds the estimator input: the N-divisor covariance of the
// specification's items over complete rows
func (c *Comparator) request(spec psychometrics.CFASpecification, ds *dataset.Dataset) (ports.CFARequest, error) {
	responses, err := ds.CompleteMatrix(spec.Items())
	if err != nil {
		return ports.CFARequest{}, err
	}
	n, _ := responses.Dims()
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, responses, nil)
	if n > 1 {
		cov.ScaleSym(float64(n-1)/float64(n), &cov)
	}
	return ports.CFARequest{
		Specification: spec,
		Covariance:    &cov,
		N:             n,
		MaxIterations: c.maxIterations,
	}, nil
}

// Fit estimates one specification with latent variances fixed to one
func (c *Comparator) Fit(ctx context.Context, spec psychometrics.CFASpecification, ds *dataset.Dataset) (psychometrics.FactorModel, error) {
	req, err := c.request(spec, ds)
	if err != nil {
		return psychometrics.FactorModel{}, err
	}
	model, err := c.sem.FitCFA(ctx, req)
	if err != nil {
		return psychometrics.FactorModel{}, fmt.Errorf("fit %s: %w", spec.ID(), err)
	}
	for _, w := range model.Warnings {
		c.logger.Warn("%s: %s", spec.ID(), w.Message)
	}
	c.logger.Info("%s: chi2(%d)=%.2f CFI=%.3f RMSEA=%.3f SRMR=%.3f", spec.ID(), model.Fit.DF,
		model.Fit.ChiSquare, model.Fit.CFI, model.Fit.RMSEA, model.Fit.SRMR)
	return model, nil
}

// FitAll fits every specification in order
func (c *Comparator) FitAll(ctx context.Context, specs []psychometrics.CFASpecification, ds *dataset.Dataset) ([]psychometrics.FactorModel, error) {
	out := make([]psychometrics.FactorModel, 0, len(specs))
	for _, spec := range specs {
		m, err := c.Fit(ctx, spec, ds)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ModificationIndices ranks the fixed parameters of a fitted model whose
// index is at least minimum, largest first. Ties resolve by label.
func (c *Comparator) ModificationIndices(ctx context.Context, model psychometrics.FactorModel, ds *dataset.Dataset, minimum float64) ([]psychometrics.ModificationIndex, error) {
	if model.Specification == nil {
		return nil, fmt.Errorf("%s carries no specification", model.Label)
	}
	req, err := c.request(*model.Specification, ds)
	if err != nil {
		return nil, err
	}
	all, err := c.sem.ModificationIndices(ctx, req, model)
	if err != nil {
		return nil, err
	}
	var out []psychometrics.ModificationIndex
	for _, mi := range all {
		if mi.MI >= minimum {
			out = append(out, mi)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MI != out[j].MI {
			return out[i].MI > out[j].MI
		}
		return out[i].Label() < out[j].Label()
	})
	return out, nil
}

// BuildCandidates returns the one-factor collapse and the given
// specification, each with and without the residual covariance when one is
// supplied
func BuildCandidates(multi psychometrics.CFASpecification, covariance *psychometrics.ItemPair) []psychometrics.CFASpecification {
	base := multi.WithoutResidualCovariances(multi.Name)
	one := base.Collapse("one_factor", "general")
	out := []psychometrics.CFASpecification{one, base}
	if covariance != nil {
		out = []psychometrics.CFASpecification{
			one,
			one.WithResidualCovariance("one_factor_cov", *covariance),
			base,
			base.WithResidualCovariance(multi.Name+"_cov", *covariance),
		}
	}
	return out
}
