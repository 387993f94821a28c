package ports

import (
	"context"

	"arvis/domain/psychometrics"

	"gonum.org/v1/gonum/mat"
)

// EFARequest describes one exploratory maximum-likelihood fit
type EFARequest struct {
	Label         string
	Items         []string
	Correlation   *mat.SymDense
	N             int
	Factors       int
	Rotation      psychometrics.Rotation
	MaxIterations int
}

// FactorEstimator extracts and rotates an exploratory factor solution.
// Implementations fail with a convergence error naming the item set when the
// optimizer exhausts its budget, and report Heywood cases as warnings.
type FactorEstimator interface {
	FitEFA(ctx context.Context, req EFARequest) (psychometrics.FactorModel, error)
}

// CFARequest describes one confirmatory fit. Covariance uses the N divisor.
type CFARequest struct {
	Specification psychometrics.CFASpecification
	Covariance    *mat.SymDense
	N             int
	MaxIterations int
}

// SEMEstimator fits confirmatory models with latent variances fixed to one
type SEMEstimator interface {
	FitCFA(ctx context.Context, req CFARequest) (psychometrics.FactorModel, error)

	// ModificationIndices scores every fixed residual covariance and cross-loading
	// of a fitted model by the expected chi-square drop of freeing it
	ModificationIndices(ctx context.Context, req CFARequest, model psychometrics.FactorModel) ([]psychometrics.ModificationIndex, error)
}
