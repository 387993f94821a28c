package validity

import (
	"fmt"
	"math"
	"strings"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
)

// CompareOverlappingCorrelations tests H0: r(j,k) = r(j,h) for two
// correlations sharing variable j, given the third correlation r(k,h).
// Swapping k and h flips the sign of z and leaves p unchanged.
func (a *Analyzer) CompareOverlappingCorrelations(rjk, rjh, rkh float64, n int, method psychometrics.OverlapMethod) (z, p float64, err error) {
	if n < 4 {
		return 0, 0, core.NewInsufficientDataError("overlapping correlation test", n, 4)
	}
	for _, r := range []float64{rjk, rjh, rkh} {
		if math.Abs(r) >= 1 {
			return 0, 0, core.NewAssumptionViolation("overlapping correlation test", fmt.Sprintf("|r| = %.3f is not below 1", math.Abs(r)))
		}
	}
	zjk, zjh := a.dist.FisherZ(rjk), a.dist.FisherZ(rjh)
	nf := float64(n)

	switch method {
	case psychometrics.OverlapSteiger:
		// pooled r of the two correlations being compared
		rm := (rjk + rjh) / 2
		rm2 := rm * rm
		psi := rkh*(1-2*rm2) - 0.5*rm2*(1-2*rm2-rkh*rkh)
		c := psi / ((1 - rm2) * (1 - rm2))
		z = (zjk - zjh) * math.Sqrt(nf-3) / math.Sqrt(2-2*c)
	case psychometrics.OverlapMengRosenthalRubin:
		r2 := (rjk*rjk + rjh*rjh) / 2
		f := math.Min((1-rkh)/(2*(1-r2)), 1)
		h := (1 - f*r2) / (1 - r2)
		z = (zjk - zjh) * math.Sqrt((nf-3)/(2*(1-rkh)*h))
	default:
		return 0, 0, fmt.Errorf("unknown overlap method %q", method)
	}
	return z, a.dist.NormalTwoTailedPValue(z), nil
}

// CompareConvergentDivergent tests, for every convergent and divergent
// measure, whether the target correlates differently with the two. All three
// correlations of a comparison use the rows where the three variables are
// observed.
func (a *Analyzer) CompareConvergentDivergent(ds *dataset.Dataset, target string, convergent, divergent []string, corr psychometrics.CorrelationMethod, method psychometrics.OverlapMethod) ([]psychometrics.ValidityComparison, error) {
	var out []psychometrics.ValidityComparison
	for _, k := range convergent {
		for _, h := range divergent {
			cols, err := completePairs(ds, target, k, h)
			if err != nil {
				return nil, err
			}
			n := len(cols[0])
			if n < 4 {
				return nil, core.NewInsufficientDataError(fmt.Sprintf("comparison of %s with %s and %s", target, k, h), n, 4)
			}
			rjk, err := coefficient(cols[0], cols[1], a.methodFor(target, k, corr))
			if err != nil {
				return nil, err
			}
			rjh, err := coefficient(cols[0], cols[2], a.methodFor(target, h, corr))
			if err != nil {
				return nil, err
			}
			rkh, err := coefficient(cols[1], cols[2], a.methodFor(k, h, corr))
			if err != nil {
				return nil, err
			}
			z, p, err := a.CompareOverlappingCorrelations(rjk, rjh, rkh, n, method)
			if err != nil {
				return nil, fmt.Errorf("%s vs %s: %w", k, h, err)
			}
			out = append(out, psychometrics.ValidityComparison{
				Target: target, Convergent: k, Divergent: h,
				RJK: rjk, RJH: rjh, RKH: rkh, N: n,
				Z: z, PValue: p, Method: method,
			})
		}
	}
	a.logger.Info("%d convergent/divergent comparisons for %s", len(out), target)
	return out, nil
}

// ComparisonsDecision summarizes which comparisons separated convergent from
// divergent correlations at alpha
func ComparisonsDecision(comparisons []psychometrics.ValidityComparison, alpha float64) stage.Decision {
	var weak []string
	for _, c := range comparisons {
		if !c.Significant(alpha) || math.Abs(c.RJK) <= math.Abs(c.RJH) {
			weak = append(weak, c.Convergent+"/"+c.Divergent)
		}
	}
	outcome := fmt.Sprintf("%d of %d comparisons favor the convergent measure", len(comparisons)-len(weak), len(comparisons))
	if len(weak) > 0 {
		outcome += "; not separated: " + strings.Join(weak, ", ")
	}
	return stage.Decision{
		Stage:        stage.StageValidity,
		Rule:         fmt.Sprintf("overlapping correlation p < %.3f with |r_convergent| > |r_divergent|", alpha),
		Metric:       "p_value",
		Threshold:    alpha,
		ItemsMatched: weak,
		Outcome:      outcome,
	}
}
