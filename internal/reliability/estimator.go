// Package reliability estimates internal consistency: Cronbach's alpha and
// McDonald's omega from a Schmid-Leiman decomposition.
package reliability

import (
	"context"

	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"
	"arvis/internal/screening"
	"arvis/ports"
)

// Estimator computes reliability reports through a factor estimator
type Estimator struct {
	factors       ports.FactorEstimator
	maxIterations int
	logger        *internal.Logger
}

// NewEstimator creates a reliability estimator
func NewEstimator(factors ports.FactorEstimator, maxIterations int, logger *internal.Logger) *Estimator {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Estimator{factors: factors, maxIterations: maxIterations, logger: logger.Scoped("reliability")}
}

// Compute reports alpha, alpha-if-dropped and omega for one item set over the
// rows where every item is observed. Degenerate solutions become warnings.
func (e *Estimator) Compute(ctx context.Context, ds *dataset.Dataset, items []string, groupFactors int) (psychometrics.ReliabilityReport, error) {
	cm, err := screening.ComputeInterItemCorrelation(ds, items)
	if err != nil {
		return psychometrics.ReliabilityReport{}, err
	}
	responses, err := ds.CompleteMatrix(items)
	if err != nil {
		return psychometrics.ReliabilityReport{}, err
	}

	raw, std := Alpha(responses)
	omega, err := e.SchmidLeiman(ctx, cm, groupFactors)
	if err != nil {
		return psychometrics.ReliabilityReport{}, err
	}

	report := psychometrics.ReliabilityReport{
		Items:             append([]string(nil), items...),
		N:                 cm.N,
		Alpha:             raw,
		StandardizedAlpha: std,
		AlphaIfDropped:    AlphaIfDropped(responses, items),
		OmegaHierarchical: omega.Hierarchical,
		OmegaTotal:        omega.Total,
		GroupFactors:      groupFactors,
		GeneralLoadings:   make(map[string]float64, len(items)),
		Warnings:          omega.Warnings,
	}
	for i, item := range items {
		report.GeneralLoadings[item] = omega.GeneralLoadings[i]
	}
	for _, w := range report.Warnings {
		e.logger.Warn("%s", w.Message)
	}
	e.logger.Info("%d items: alpha=%.3f omega_h=%.3f omega_t=%.3f", len(items), raw, omega.Hierarchical, omega.Total)
	return report, nil
}
