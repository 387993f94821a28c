// Package factor runs the exploratory stage: suitability gates, parallel
// analysis, maximum-likelihood fits over a range of factor counts, factor
// count selection and cross-loading pruning.
package factor

import (
	"context"
	"errors"
	"fmt"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"
	"arvis/internal/screening"
	"arvis/ports"
)

// Analyzer fits exploratory models through a FactorEstimator
type Analyzer struct {
	factors       ports.FactorEstimator
	rng           ports.RNGPort
	maxIterations int
	logger        *internal.Logger
}

// NewAnalyzer creates a factor analyzer
func NewAnalyzer(factors ports.FactorEstimator, rng ports.RNGPort, maxIterations int, logger *internal.Logger) *Analyzer {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Analyzer{
		factors:       factors,
		rng:           rng,
		maxIterations: maxIterations,
		logger:        logger.Scoped("factor"),
	}
}

// Fit extracts k factors from the items' correlation matrix
func (a *Analyzer) Fit(ctx context.Context, ds *dataset.Dataset, items []string, k int, rotation psychometrics.Rotation) (psychometrics.FactorModel, error) {
	cm, err := screening.ComputeInterItemCorrelation(ds, items)
	if err != nil {
		return psychometrics.FactorModel{}, err
	}
	return a.FitCorrelation(ctx, cm, k, rotation)
}

// FitCorrelation extracts k factors from a precomputed correlation matrix
func (a *Analyzer) FitCorrelation(ctx context.Context, cm psychometrics.CorrelationMatrix, k int, rotation psychometrics.Rotation) (psychometrics.FactorModel, error) {
	model, err := a.factors.FitEFA(ctx, ports.EFARequest{
		Label:         fmt.Sprintf("efa_%df", k),
		Items:         cm.Items,
		Correlation:   cm.Values,
		N:             cm.N,
		Factors:       k,
		Rotation:      rotation,
		MaxIterations: a.maxIterations,
	})
	if err != nil {
		return psychometrics.FactorModel{}, err
	}
	for _, w := range model.Warnings {
		a.logger.Warn("%s: %s", model.Label, w.Message)
	}
	a.logger.Debug("%s: chi2(%d)=%.2f BIC=%.2f RMSEA=%.3f", model.Label, model.Fit.DF, model.Fit.ChiSquare, model.Fit.BIC, model.Fit.RMSEA)
	return model, nil
}

// FitRange fits 1..maxFactors factors and stops at the first count the items
// cannot identify
func (a *Analyzer) FitRange(ctx context.Context, ds *dataset.Dataset, items []string, maxFactors int, rotation psychometrics.Rotation) ([]psychometrics.FactorModel, error) {
	cm, err := screening.ComputeInterItemCorrelation(ds, items)
	if err != nil {
		return nil, err
	}
	var models []psychometrics.FactorModel
	for k := 1; k <= maxFactors; k++ {
		model, err := a.FitCorrelation(ctx, cm, k, rotation)
		if err != nil {
			if core.IsAssumptionViolation(err) || errors.Is(err, core.ErrInsufficientData) {
				a.logger.Warn("stopping at %d factors: %v", k-1, err)
				break
			}
			return nil, err
		}
		models = append(models, model)
	}
	if len(models) == 0 {
		return nil, core.NewInsufficientDataError(fmt.Sprintf("identifiable factor models over %d items", len(items)), 0, 1)
	}
	return models, nil
}
