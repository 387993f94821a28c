package confirmatory

import (
	"context"
	"errors"
	"fmt"
	"math"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
)

// Fix kinds
const (
	FixResidualCovariance = "residual_covariance"
	FixRemoveItem         = "remove_item"
)

// RespecOption is one candidate fix and the fit it achieved
type RespecOption struct {
	Kind          string                         `json:"kind"`
	Item          string                         `json:"item,omitempty"`
	Specification psychometrics.CFASpecification `json:"specification"`
	Model         *psychometrics.FactorModel     `json:"model,omitempty"`
	Unavailable   string                         `json:"unavailable,omitempty"`
}

// Available reports whether the option could be fitted
func (o RespecOption) Available() bool {
	return o.Model != nil
}

// Respecification weighs freeing a residual covariance against removing an
// item for the top modification index
type Respecification struct {
	Trigger    psychometrics.ModificationIndex `json:"trigger"`
	Covariance RespecOption                    `json:"covariance"`
	Removal    RespecOption                    `json:"removal"`
	Chosen     string                          `json:"chosen"`
	Tolerance  float64                         `json:"tolerance"`
	Rationale  string                          `json:"rationale"`
}

// Specification returns the chosen revision
func (r Respecification) Specification() psychometrics.CFASpecification {
	if r.Chosen == FixRemoveItem {
		return r.Removal.Specification
	}
	return r.Covariance.Specification
}

// Model returns the fit of the chosen revision
func (r Respecification) Model() psychometrics.FactorModel {
	if r.Chosen == FixRemoveItem {
		return *r.Removal.Model
	}
	return *r.Covariance.Model
}

// Decision renders the choice as a ledger entry
func (r Respecification) Decision() stage.Decision {
	var matched []string
	if r.Chosen == FixRemoveItem {
		matched = []string{r.Removal.Item}
	}
	return stage.Decision{
		Stage:        stage.StageRespecification,
		Rule:         "prefer item removal when fit is within tolerance of the covariance fix",
		Metric:       "modification_index",
		Threshold:    r.Tolerance,
		ItemsMatched: matched,
		Outcome:      fmt.Sprintf("%s for %s (MI %.2f)", r.Chosen, r.Trigger.Label(), r.Trigger.MI),
		Rationale:    r.Rationale,
	}
}

// fitsWithin reports whether a fits within tolerance of b on CFI, RMSEA and SRMR
func fitsWithin(a, b psychometrics.FitIndices, tolerance float64) bool {
	return a.CFI >= b.CFI-tolerance && a.RMSEA <= b.RMSEA+tolerance && a.SRMR <= b.SRMR+tolerance
}

// RecommendRespecification fits both fixes for a modification index. Removing
// an item is preferred over adding a covariance term whenever its fit is
// within tolerance. For a residual covariance the removed item is whichever
// of the pair gives the better fit.
func (c *Comparator) RecommendRespecification(ctx context.Context, spec psychometrics.CFASpecification, ds *dataset.Dataset, mi psychometrics.ModificationIndex, tolerance float64) (Respecification, error) {
	res := Respecification{Trigger: mi, Tolerance: tolerance}

	var removable []string
	switch mi.Kind {
	case psychometrics.ParamResidualCovariance:
		pair := psychometrics.NewItemPair(mi.Left, mi.Right)
		res.Covariance = RespecOption{Kind: FixResidualCovariance, Specification: spec.WithResidualCovariance(spec.Name+"_cov", pair)}
		model, err := c.Fit(ctx, res.Covariance.Specification, ds)
		if err != nil {
			return res, err
		}
		res.Covariance.Model = &model
		removable = []string{pair.A, pair.B}
	case psychometrics.ParamLoading:
		res.Covariance = RespecOption{Kind: FixResidualCovariance, Unavailable: "cross-loadings have no covariance fix"}
		removable = []string{mi.Right}
	default:
		return res, fmt.Errorf("no respecification for %s", mi.Label())
	}

	res.Removal = RespecOption{Kind: FixRemoveItem}
	for _, item := range removable {
		revised := spec.WithoutItem(spec.Name+"_minus_"+item, item)
		model, err := c.Fit(ctx, revised, ds)
		if err != nil {
			if core.IsAssumptionViolation(err) || errors.Is(err, core.ErrInsufficientData) {
				c.logger.Debug("removing %s leaves an unidentified model: %v", item, err)
				continue
			}
			return res, err
		}
		if !res.Removal.Available() || betterFit(model.Fit, res.Removal.Model.Fit) {
			m := model
			res.Removal.Item, res.Removal.Specification, res.Removal.Model = item, revised, &m
		}
	}
	if !res.Removal.Available() {
		res.Removal.Unavailable = "removing either item leaves the model unidentified"
	}

	switch {
	case !res.Covariance.Available() && !res.Removal.Available():
		return res, core.NewAssumptionViolation("respecification", fmt.Sprintf("no identifiable fix for %s", mi.Label()))
	case !res.Covariance.Available():
		res.Chosen = FixRemoveItem
		res.Rationale = fmt.Sprintf("%s; removed %s", res.Covariance.Unavailable, res.Removal.Item)
	case !res.Removal.Available():
		res.Chosen = FixResidualCovariance
		res.Rationale = fmt.Sprintf("%s; freed %s", res.Removal.Unavailable, mi.Label())
	default:
		cov, rem := res.Covariance.Model.Fit, res.Removal.Model.Fit
		detail := fmt.Sprintf("removal CFI %.3f RMSEA %.3f SRMR %.3f vs covariance CFI %.3f RMSEA %.3f SRMR %.3f",
			rem.CFI, rem.RMSEA, rem.SRMR, cov.CFI, cov.RMSEA, cov.SRMR)
		if fitsWithin(rem, cov, tolerance) {
			res.Chosen = FixRemoveItem
			res.Rationale = fmt.Sprintf("removing %s fits comparably within %.3f (%s); a redundant item is dropped rather than adding an unmotivated covariance",
				res.Removal.Item, tolerance, detail)
		} else {
			res.Chosen = FixResidualCovariance
			res.Rationale = fmt.Sprintf("freeing %s fits better beyond %.3f (%s)", mi.Label(), tolerance, detail)
		}
	}
	c.logger.Info("respecification for %s: %s", mi.Label(), res.Chosen)
	return res, nil
}

func betterFit(a, b psychometrics.FitIndices) bool {
	if a.CFI != b.CFI {
		return a.CFI > b.CFI
	}
	return a.RMSEA < b.RMSEA
}

// LRTResult is a chi-square difference test between nested models
type LRTResult struct {
	Restricted    string  `json:"restricted"`
	Full          string  `json:"full"`
	ChiSquareDiff float64 `json:"chi_square_diff"`
	DFDiff        int     `json:"df_diff"`
	PValue        float64 `json:"p_value"`
}

// Significant reports whether the freer model fits better at alpha
func (r LRTResult) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// Decision renders the test as a ledger entry
func (r LRTResult) Decision(alpha float64) stage.Decision {
	outcome := fmt.Sprintf("%s does not fit significantly better than %s", r.Full, r.Restricted)
	if r.Significant(alpha) {
		outcome = fmt.Sprintf("%s fits significantly better than %s", r.Full, r.Restricted)
	}
	return stage.Decision{
		Stage:     stage.StageLikelihoodRatio,
		Rule:      fmt.Sprintf("chi-square difference p < %.3f", alpha),
		Metric:    "p_value",
		Threshold: alpha,
		Outcome:   fmt.Sprintf("delta chi2(%d)=%.2f, p=%.4g: %s", r.DFDiff, r.ChiSquareDiff, r.PValue, outcome),
	}
}

// LikelihoodRatioTest compares two fitted confirmatory models. The model with
// more degrees of freedom must be a constrained special case of the other: the
// same items, a subset of its residual covariances and a factor partition that
// merges the other's factors. Anything else is a NotNestedError.
func (c *Comparator) LikelihoodRatioTest(a, b psychometrics.FactorModel) (LRTResult, error) {
	if a.Specification == nil || b.Specification == nil {
		return LRTResult{}, core.NewNotNestedError(a.Label, b.Label, "both models need a confirmatory specification")
	}
	restricted, full := a, b
	if b.Fit.DF > a.Fit.DF {
		restricted, full = b, a
	}
	if err := nested(*restricted.Specification, *full.Specification, restricted.Fit.DF, full.Fit.DF); err != nil {
		return LRTResult{}, core.NewNotNestedError(restricted.Label, full.Label, err.Error())
	}
	res := LRTResult{
		Restricted:    restricted.Label,
		Full:          full.Label,
		ChiSquareDiff: math.Max(restricted.Fit.ChiSquare-full.Fit.ChiSquare, 0),
		DFDiff:        restricted.Fit.DF - full.Fit.DF,
	}
	res.PValue = c.dist.ChiSquarePValue(res.ChiSquareDiff, res.DFDiff)
	return res, nil
}

func nested(restricted, full psychometrics.CFASpecification, dfR, dfF int) error {
	if dfR <= dfF {
		return fmt.Errorf("degrees of freedom %d and %d leave nothing constrained", dfR, dfF)
	}
	ri, fi := restricted.Items(), full.Items()
	if len(ri) != len(fi) {
		return fmt.Errorf("item sets differ (%d vs %d items)", len(ri), len(fi))
	}
	for i := range ri {
		if ri[i] != fi[i] {
			return fmt.Errorf("item sets differ at %s vs %s", ri[i], fi[i])
		}
	}
	for _, p := range restricted.ResidualCovariances {
		if !full.HasResidualCovariance(p) {
			return fmt.Errorf("residual covariance %s is not free in the larger model", p)
		}
	}
	for _, f := range full.Factors {
		owner := ""
		for _, it := range f.Indicators {
			r, _ := restricted.FactorOf(it)
			if owner == "" {
				owner = r
			} else if r != owner {
				return fmt.Errorf("factor %s is split across the smaller model's factors", f.Name)
			}
		}
	}
	return nil
}

// PairFromNames builds the configured residual covariance pair, or nil when
// none is configured
func PairFromNames(names []string, items dataset.ItemSet) (*psychometrics.ItemPair, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if len(names) != 2 {
		return nil, fmt.Errorf("residual covariance needs two items, got %d", len(names))
	}
	for _, n := range names {
		if !items.Contains(n) {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownItem, n)
		}
	}
	p := psychometrics.NewItemPair(names[0], names[1])
	return &p, nil
}
