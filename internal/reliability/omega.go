package reliability

import (
	"context"
	"fmt"
	"math"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
	"arvis/ports"

	"gonum.org/v1/gonum/mat"
)

// heywoodUniqueness is the floor below which an item's uniqueness is reported
const heywoodUniqueness = 0.005

// Omega holds a Schmid-Leiman decomposition and the coefficients derived from it
type Omega struct {
	Hierarchical    float64
	Total           float64
	GeneralLoadings []float64
	GroupLoadings   [][]float64
	Uniquenesses    []float64
	Warnings        []psychometrics.DegenerateSolutionWarning
}

// SchmidLeiman fits an oblique solution with the given number of group
// factors, orthogonalizes it into one general and k group factors and returns
// omega hierarchical and omega total against the observed correlation matrix.
func (e *Estimator) SchmidLeiman(ctx context.Context, cm psychometrics.CorrelationMatrix, groupFactors int) (Omega, error) {
	p := len(cm.Items)
	if groupFactors < 1 {
		return Omega{}, fmt.Errorf("omega needs at least one group factor, got %d", groupFactors)
	}
	sumR := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			sumR += cm.Values.At(i, j)
		}
	}

	rotation := psychometrics.RotationOblimin
	if groupFactors == 1 {
		rotation = psychometrics.RotationNone
	}
	model, err := e.factors.FitEFA(ctx, ports.EFARequest{
		Label:         fmt.Sprintf("omega_%df", groupFactors),
		Items:         cm.Items,
		Correlation:   cm.Values,
		N:             cm.N,
		Factors:       groupFactors,
		Rotation:      rotation,
		MaxIterations: e.maxIterations,
	})
	if err != nil {
		return Omega{}, err
	}

	out := Omega{
		GeneralLoadings: make([]float64, p),
		GroupLoadings:   make([][]float64, p),
		Uniquenesses:    make([]float64, p),
		Warnings:        append([]psychometrics.DegenerateSolutionWarning(nil), model.Warnings...),
	}

	gf, warnings, err := e.generalFactorLoadings(ctx, model, cm.N)
	if err != nil {
		return Omega{}, err
	}
	out.Warnings = append(out.Warnings, warnings...)

	sumU := 0.0
	sumG := 0.0
	for i := 0; i < p; i++ {
		out.GroupLoadings[i] = make([]float64, groupFactors)
		h2 := 0.0
		for f := 0; f < groupFactors; f++ {
			l := model.Loadings[i][f]
			out.GeneralLoadings[i] += l * gf[f]
			s := l * math.Sqrt(math.Max(0, 1-gf[f]*gf[f]))
			out.GroupLoadings[i][f] = s
			h2 += s * s
		}
		h2 += out.GeneralLoadings[i] * out.GeneralLoadings[i]
		u2 := 1 - h2
		out.Uniquenesses[i] = u2
		sumU += u2
		sumG += out.GeneralLoadings[i]

		item := cm.Items[i]
		switch {
		case h2 >= 1:
			out.Warnings = append(out.Warnings, psychometrics.DegenerateSolutionWarning{
				Item: item, Kind: psychometrics.WarningUltraHeywood, Value: h2,
				Message: fmt.Sprintf("%s communality %.3f is at or above 1", item, h2),
			})
		case u2 <= heywoodUniqueness:
			out.Warnings = append(out.Warnings, psychometrics.DegenerateSolutionWarning{
				Item: item, Kind: psychometrics.WarningHeywood, Value: u2,
				Message: fmt.Sprintf("%s uniqueness %.4f is at the boundary", item, u2),
			})
		}
	}

	if sumR <= 0 {
		return Omega{}, core.NewAssumptionViolation("omega", "correlation matrix sums to a non-positive total")
	}
	out.Total = 1 - sumU/sumR
	out.Hierarchical = sumG * sumG / sumR
	if groupFactors == 1 {
		out.Hierarchical = out.Total
	}
	return out, nil
}

// generalFactorLoadings returns each group factor's loading on the general
// factor: one factor loads 1, two factors share sqrt(phi12), three or more
// come from a one-factor fit of the factor correlation matrix.
func (e *Estimator) generalFactorLoadings(ctx context.Context, model psychometrics.FactorModel, n int) ([]float64, []psychometrics.DegenerateSolutionWarning, error) {
	k := model.FactorCount()
	var warnings []psychometrics.DegenerateSolutionWarning
	gf := make([]float64, k)

	switch {
	case k == 1:
		gf[0] = 1
		return gf, nil, nil
	case k == 2:
		phi := model.FactorCorrelations[0][1]
		warnings = append(warnings, psychometrics.DegenerateSolutionWarning{
			Kind: psychometrics.WarningTwoGroupFactors, Value: phi,
			Message: "two group factors: general loadings are both set to sqrt(phi12)",
		})
		if phi < 0 {
			warnings = append(warnings, psychometrics.DegenerateSolutionWarning{
				Kind: psychometrics.WarningGeneralLoading, Value: phi,
				Message: fmt.Sprintf("negative factor correlation %.3f, using its absolute value", phi),
			})
		}
		g := math.Sqrt(math.Abs(phi))
		gf[0], gf[1] = g, g
	default:
		names := make([]string, k)
		phi := mat.NewSymDense(k, nil)
		for i := 0; i < k; i++ {
			names[i] = model.Factors[i]
			for j := i; j < k; j++ {
				phi.SetSym(i, j, model.FactorCorrelations[i][j])
			}
		}
		second, err := e.factors.FitEFA(ctx, ports.EFARequest{
			Label:         "omega_general",
			Items:         names,
			Correlation:   phi,
			N:             n,
			Factors:       1,
			Rotation:      psychometrics.RotationNone,
			MaxIterations: e.maxIterations,
		})
		if err != nil {
			return nil, nil, err
		}
		for f := 0; f < k; f++ {
			gf[f] = second.Loadings[f][0]
		}
	}

	for f := 0; f < k; f++ {
		if math.Abs(gf[f]) >= 1 {
			warnings = append(warnings, psychometrics.DegenerateSolutionWarning{
				Item: model.Factors[f], Kind: psychometrics.WarningGeneralLoading, Value: gf[f],
				Message: fmt.Sprintf("%s general loading %.3f is at or above 1", model.Factors[f], gf[f]),
			})
		}
	}
	return gf, warnings, nil
}
