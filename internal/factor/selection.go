package factor

import (
	"fmt"

	"arvis/domain/core"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
)

// FactorCountRow is one line of the factor-count comparison table
type FactorCountRow struct {
	Factors    int     `json:"factors"`
	ChiSquare  float64 `json:"chi_square"`
	DF         int     `json:"df"`
	PValue     float64 `json:"p_value"`
	BIC        float64 `json:"bic"`
	RMSEA      float64 `json:"rmsea"`
	RMSEALower float64 `json:"rmsea_lower"`
	RMSEAUpper float64 `json:"rmsea_upper"`
	TLI        float64 `json:"tli"`
}

// FactorCountDecision picks the factor count with the lowest BIC. RMSEA is
// inspected and its preference recorded, never allowed to override BIC.
type FactorCountDecision struct {
	Chosen         int              `json:"chosen"`
	Table          []FactorCountRow `json:"table"`
	RMSEAPreferred int              `json:"rmsea_preferred"`
	Disagreement   bool             `json:"disagreement"`
	Rationale      string           `json:"rationale"`
}

// SelectFactorCount chooses among fitted models by BIC. Equal BICs resolve to
// the smaller count.
func SelectFactorCount(models []psychometrics.FactorModel) (FactorCountDecision, error) {
	if len(models) == 0 {
		return FactorCountDecision{}, core.NewInsufficientDataError("factor models to compare", 0, 1)
	}
	var dec FactorCountDecision
	bestBIC, bestRMSEA := -1, -1
	for i, m := range models {
		dec.Table = append(dec.Table, FactorCountRow{
			Factors:    m.FactorCount(),
			ChiSquare:  m.Fit.ChiSquare,
			DF:         m.Fit.DF,
			PValue:     m.Fit.PValue,
			BIC:        m.Fit.BIC,
			RMSEA:      m.Fit.RMSEA,
			RMSEALower: m.Fit.RMSEALower,
			RMSEAUpper: m.Fit.RMSEAUpper,
			TLI:        m.Fit.TLI,
		})
		if bestBIC < 0 || better(m.Fit.BIC, m.FactorCount(), models[bestBIC].Fit.BIC, models[bestBIC].FactorCount()) {
			bestBIC = i
		}
		if bestRMSEA < 0 || better(m.Fit.RMSEA, m.FactorCount(), models[bestRMSEA].Fit.RMSEA, models[bestRMSEA].FactorCount()) {
			bestRMSEA = i
		}
	}

	dec.Chosen = models[bestBIC].FactorCount()
	dec.RMSEAPreferred = models[bestRMSEA].FactorCount()
	dec.Disagreement = dec.Chosen != dec.RMSEAPreferred
	dec.Rationale = fmt.Sprintf("lowest BIC %.2f at %d factors", models[bestBIC].Fit.BIC, dec.Chosen)
	if dec.Disagreement {
		dec.Rationale += fmt.Sprintf("; RMSEA prefers %d factors (%.3f vs %.3f), BIC retained as the complexity-aware criterion",
			dec.RMSEAPreferred, models[bestRMSEA].Fit.RMSEA, models[bestBIC].Fit.RMSEA)
	}
	return dec, nil
}

func better(v float64, k int, best float64, bestK int) bool {
	if v != best {
		return v < best
	}
	return k < bestK
}

// Decision renders the selection as a ledger entry
func (d FactorCountDecision) Decision() stage.Decision {
	return stage.Decision{
		Stage:     stage.StageFactorCount,
		Rule:      "minimum BIC",
		Metric:    "bic",
		Threshold: 0,
		Outcome:   fmt.Sprintf("%d factors", d.Chosen),
		Rationale: d.Rationale,
	}
}
