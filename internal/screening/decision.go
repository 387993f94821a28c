package screening

import (
	"fmt"
	"strings"

	"arvis/domain/stage"
)

// ScreeningDecision is the outcome of one item-level rule: the metric value of
// every item considered and the items that matched
type ScreeningDecision struct {
	Rule         string             `json:"rule"`
	Metric       string             `json:"metric"`
	Threshold    float64            `json:"threshold"`
	Values       map[string]float64 `json:"values"`
	ItemsMatched []string           `json:"items_matched"`
}

// Decision renders the screening outcome as a ledger entry
func (d ScreeningDecision) Decision(name stage.StageName) stage.Decision {
	outcome := "no items removed"
	if len(d.ItemsMatched) > 0 {
		outcome = fmt.Sprintf("removed %s", strings.Join(d.ItemsMatched, ", "))
	}
	return stage.Decision{
		Stage:        name,
		Rule:         d.Rule,
		Metric:       d.Metric,
		Threshold:    d.Threshold,
		ItemsMatched: append([]string(nil), d.ItemsMatched...),
		Outcome:      outcome,
	}
}
