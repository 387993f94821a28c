package factor

import (
	"fmt"
	"math"
	"sort"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
	"arvis/internal/distributions"

	"gonum.org/v1/gonum/mat"
)

// SphericityResult is Bartlett's test that the correlation matrix is an identity
type SphericityResult struct {
	ChiSquare float64 `json:"chi_square"`
	DF        int     `json:"df"`
	PValue    float64 `json:"p_value"`
	N         int     `json:"n"`
	Items     int     `json:"items"`
}

// BartlettSphericity runs Bartlett's test. The result is always returned; a
// non-significant test also returns an AssumptionViolation so the caller can
// decide whether to proceed.
func BartlettSphericity(cm psychometrics.CorrelationMatrix, alpha float64) (SphericityResult, error) {
	p := len(cm.Items)
	if cm.N < 2 || p < 2 {
		return SphericityResult{}, core.NewInsufficientDataError("sphericity test", cm.N, 2)
	}
	logDet, sign := mat.LogDet(cm.Values)
	if sign <= 0 || math.IsInf(logDet, 0) {
		return SphericityResult{}, core.NewSingularMatrixError("correlation matrix", cm.Items)
	}
	n, pf := float64(cm.N), float64(p)
	res := SphericityResult{
		ChiSquare: -(n - 1 - (2*pf+5)/6) * logDet,
		DF:        p * (p - 1) / 2,
		N:         cm.N,
		Items:     p,
	}
	res.PValue = distributions.New().ChiSquarePValue(res.ChiSquare, res.DF)
	if res.PValue >= alpha {
		return res, core.NewAssumptionViolation("bartlett sphericity",
			fmt.Sprintf("chi2(%d)=%.2f, p=%.4f is not below %.3f", res.DF, res.ChiSquare, res.PValue, alpha))
	}
	return res, nil
}

// KMOResult is the Kaiser-Meyer-Olkin measure of sampling adequacy
type KMOResult struct {
	Overall float64            `json:"overall"`
	PerItem map[string]float64 `json:"per_item"`
}

// LowItems returns items whose MSA falls below minimum, in name order
func (k KMOResult) LowItems(minimum float64) []string {
	var out []string
	for item, v := range k.PerItem {
		if v < minimum {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// KMO compares squared correlations to squared partial correlations from the
// inverse correlation matrix
func KMO(cm psychometrics.CorrelationMatrix) (KMOResult, error) {
	p := len(cm.Items)
	var inv mat.Dense
	if err := inv.Inverse(cm.Values); err != nil {
		return KMOResult{}, core.NewSingularMatrixError("correlation matrix", cm.Items)
	}

	res := KMOResult{PerItem: make(map[string]float64, p)}
	sumR, sumP := 0.0, 0.0
	for i := 0; i < p; i++ {
		rowR, rowP := 0.0, 0.0
		for j := 0; j < p; j++ {
			if i == j {
				continue
			}
			r := cm.Values.At(i, j)
			partial := -inv.At(i, j) / math.Sqrt(inv.At(i, i)*inv.At(j, j))
			rowR += r * r
			rowP += partial * partial
		}
		res.PerItem[cm.Items[i]] = rowR / (rowR + rowP)
		sumR += rowR
		sumP += rowP
	}
	res.Overall = sumR / (sumR + sumP)
	return res, nil
}

// Decision renders the test as a ledger entry
func (r SphericityResult) Decision(alpha float64) stage.Decision {
	outcome := "correlation matrix is factorable"
	if r.PValue >= alpha {
		outcome = "not significant: the correlation matrix may be an identity"
	}
	return stage.Decision{
		Stage:     stage.StageSphericity,
		Rule:      fmt.Sprintf("bartlett p < %.3f", alpha),
		Metric:    "p_value",
		Threshold: alpha,
		Outcome:   fmt.Sprintf("chi2(%d)=%.2f, p=%.4g: %s", r.DF, r.ChiSquare, r.PValue, outcome),
	}
}

// Decision renders the adequacy check as a ledger entry
func (k KMOResult) Decision(minimum float64) stage.Decision {
	return stage.Decision{
		Stage:        stage.StageSamplingAdequacy,
		Rule:         fmt.Sprintf("kmo >= %.2f", minimum),
		Metric:       "kmo",
		Threshold:    minimum,
		ItemsMatched: k.LowItems(minimum),
		Outcome:      fmt.Sprintf("overall KMO %.3f", k.Overall),
	}
}
