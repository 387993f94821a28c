package confirmatory

import (
	"fmt"
	"sort"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
)

// FitClass grades one fit index against the cutoffs
type FitClass string

const (
	FitExcellent  FitClass = "excellent"
	FitAcceptable FitClass = "acceptable"
	FitPoor       FitClass = "poor"
)

func (c FitClass) rank() int {
	switch c {
	case FitExcellent:
		return 2
	case FitAcceptable:
		return 1
	default:
		return 0
	}
}

func worst(classes ...FitClass) FitClass {
	out := FitExcellent
	for _, c := range classes {
		if c.rank() < out.rank() {
			out = c
		}
	}
	return out
}

// Thresholds are the fit cutoffs and the redundant-factor limit
type Thresholds struct {
	RMSEAAcceptable  float64 `json:"rmsea_acceptable"`
	RMSEAExcellent   float64 `json:"rmsea_excellent"`
	CFIAcceptable    float64 `json:"cfi_acceptable"`
	CFIExcellent     float64 `json:"cfi_excellent"`
	SRMRAcceptable   float64 `json:"srmr_acceptable"`
	SRMRExcellent    float64 `json:"srmr_excellent"`
	RedundantFactorR float64 `json:"redundant_factor_r"`
}

// DefaultThresholds returns RMSEA < .08/.05, CFI and TLI > .90/.95,
// SRMR < .08/.05 and a redundant inter-factor r above .85
func DefaultThresholds() Thresholds {
	return Thresholds{
		RMSEAAcceptable:  0.08,
		RMSEAExcellent:   0.05,
		CFIAcceptable:    0.90,
		CFIExcellent:     0.95,
		SRMRAcceptable:   0.08,
		SRMRExcellent:    0.05,
		RedundantFactorR: 0.85,
	}
}

func below(v, acceptable, excellent float64) FitClass {
	switch {
	case v < excellent:
		return FitExcellent
	case v < acceptable:
		return FitAcceptable
	default:
		return FitPoor
	}
}

func above(v, acceptable, excellent float64) FitClass {
	switch {
	case v > excellent:
		return FitExcellent
	case v > acceptable:
		return FitAcceptable
	default:
		return FitPoor
	}
}

// IndexClasses grades each index of one model
type IndexClasses struct {
	RMSEA FitClass `json:"rmsea"`
	CFI   FitClass `json:"cfi"`
	TLI   FitClass `json:"tli"`
	SRMR  FitClass `json:"srmr"`
}

// Classify grades a fit against the thresholds
func (t Thresholds) Classify(fit psychometrics.FitIndices) IndexClasses {
	return IndexClasses{
		RMSEA: below(fit.RMSEA, t.RMSEAAcceptable, t.RMSEAExcellent),
		CFI:   above(fit.CFI, t.CFIAcceptable, t.CFIExcellent),
		TLI:   above(fit.TLI, t.CFIAcceptable, t.CFIExcellent),
		SRMR:  below(fit.SRMR, t.SRMRAcceptable, t.SRMRExcellent),
	}
}

// Overall is the weakest grade across indices
func (c IndexClasses) Overall() FitClass {
	return worst(c.RMSEA, c.CFI, c.TLI, c.SRMR)
}

// RankedModel is one row of the model comparison table
type RankedModel struct {
	Rank           int                      `json:"rank"`
	Label          string                   `json:"label"`
	Factors        int                      `json:"factors"`
	FreeParameters int                      `json:"free_parameters"`
	Fit            psychometrics.FitIndices `json:"fit"`
	Classes        IndexClasses             `json:"classes"`
	Overall        FitClass                 `json:"overall"`
	MaxFactorR     float64                  `json:"max_factor_r"`
	Redundant      bool                     `json:"redundant"`
}

// CompareFitIndices grades every model and ranks them by overall grade,
// then BIC, then label
func CompareFitIndices(models []psychometrics.FactorModel, t Thresholds) []RankedModel {
	out := make([]RankedModel, len(models))
	for i, m := range models {
		classes := t.Classify(m.Fit)
		out[i] = RankedModel{
			Label:          m.Label,
			Factors:        m.FactorCount(),
			FreeParameters: m.Fit.FreeParameters,
			Fit:            m.Fit,
			Classes:        classes,
			Overall:        classes.Overall(),
			MaxFactorR:     m.MaxFactorCorrelation(),
			Redundant:      m.FactorCount() > 1 && m.MaxFactorCorrelation() > t.RedundantFactorR,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Overall != out[j].Overall {
			return out[i].Overall.rank() > out[j].Overall.rank()
		}
		if out[i].Fit.BIC != out[j].Fit.BIC {
			return out[i].Fit.BIC < out[j].Fit.BIC
		}
		return out[i].Label < out[j].Label
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// ModelSelection is the chosen specification and why the others lost
type ModelSelection struct {
	Chosen    psychometrics.FactorModel `json:"chosen"`
	Class     FitClass                  `json:"class"`
	Rejected  map[string]string         `json:"rejected"`
	Rationale string                    `json:"rationale"`
}

// SelectModel picks the least complex model with excellent fit whose factors
// are not redundant. When none reaches excellent fit the least complex
// acceptable one is chosen and the fallback is recorded.
func SelectModel(models []psychometrics.FactorModel, t Thresholds) (ModelSelection, error) {
	if len(models) == 0 {
		return ModelSelection{}, core.NewInsufficientDataError("candidate models", 0, 1)
	}
	order := make([]int, len(models))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ma, mb := models[order[a]], models[order[b]]
		if ma.Fit.FreeParameters != mb.Fit.FreeParameters {
			return ma.Fit.FreeParameters < mb.Fit.FreeParameters
		}
		return ma.Label < mb.Label
	})

	sel := ModelSelection{Rejected: make(map[string]string)}
	pick := func(want FitClass) (int, bool) {
		for _, i := range order {
			m := models[i]
			class := t.Classify(m.Fit).Overall()
			if m.FactorCount() > 1 && m.MaxFactorCorrelation() > t.RedundantFactorR {
				sel.Rejected[m.Label] = fmt.Sprintf("inter-factor r %.3f above %.2f", m.MaxFactorCorrelation(), t.RedundantFactorR)
				continue
			}
			if class.rank() < want.rank() {
				sel.Rejected[m.Label] = fmt.Sprintf("%s fit", class)
				continue
			}
			return i, true
		}
		return 0, false
	}

	if i, ok := pick(FitExcellent); ok {
		sel.Chosen, sel.Class = models[i], FitExcellent
		sel.Rationale = fmt.Sprintf("%s is the least complex model (%d free parameters) with excellent fit and distinct factors",
			models[i].Label, models[i].Fit.FreeParameters)
	} else if i, ok := pick(FitAcceptable); ok {
		sel.Chosen, sel.Class = models[i], FitAcceptable
		sel.Rationale = fmt.Sprintf("no model reached excellent fit; %s is the least complex acceptable model (%d free parameters)",
			models[i].Label, models[i].Fit.FreeParameters)
	} else {
		return sel, core.NewAssumptionViolation("model selection", "no candidate reached acceptable fit with distinct factors")
	}
	delete(sel.Rejected, sel.Chosen.Label)
	for _, m := range models {
		if _, ok := sel.Rejected[m.Label]; !ok && m.Label != sel.Chosen.Label {
			sel.Rejected[m.Label] = "more complex than the chosen model"
		}
	}
	return sel, nil
}
