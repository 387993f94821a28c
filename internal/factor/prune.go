package factor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
)

// CrossLoading is an item's two largest absolute loadings and their gap
type CrossLoading struct {
	Item             string  `json:"item"`
	PrimaryFactor    string  `json:"primary_factor"`
	PrimaryLoading   float64 `json:"primary_loading"`
	SecondaryFactor  string  `json:"secondary_factor,omitempty"`
	SecondaryLoading float64 `json:"secondary_loading"`
	Gap              float64 `json:"gap"`
}

// PruneDecision lists every item's loading gap and the items below the minimum
type PruneDecision struct {
	Model        string         `json:"model"`
	MinGap       float64        `json:"min_gap"`
	Loadings     []CrossLoading `json:"loadings"`
	ItemsMatched []string       `json:"items_matched"`
}

// Decision renders the pruning outcome as a ledger entry
func (d PruneDecision) Decision() stage.Decision {
	outcome := "no cross-loading items"
	if len(d.ItemsMatched) > 0 {
		outcome = "removed " + strings.Join(d.ItemsMatched, ", ")
	}
	return stage.Decision{
		Stage:        stage.StageCrossLoadingPrune,
		Rule:         fmt.Sprintf("|top| - |second| < %.2f", d.MinGap),
		Metric:       "loading_gap",
		Threshold:    d.MinGap,
		ItemsMatched: append([]string(nil), d.ItemsMatched...),
		Outcome:      fmt.Sprintf("%s: %s", d.Model, outcome),
	}
}

// PruneCrossLoadings flags items whose largest and second-largest absolute
// loadings differ by less than minGap. One-factor models flag nothing.
func PruneCrossLoadings(model psychometrics.FactorModel, minGap float64) PruneDecision {
	dec := PruneDecision{Model: model.Label, MinGap: minGap}
	order := sortedIndex(model.Items)
	for _, i := range order {
		row := model.Loadings[i]
		cl := CrossLoading{Item: model.Items[i]}
		first, second := -1, -1
		for f := range row {
			switch {
			case first < 0 || math.Abs(row[f]) > math.Abs(row[first]):
				second = first
				first = f
			case second < 0 || math.Abs(row[f]) > math.Abs(row[second]):
				second = f
			}
		}
		if first >= 0 {
			cl.PrimaryFactor = model.Factors[first]
			cl.PrimaryLoading = row[first]
			cl.Gap = math.Abs(row[first])
		}
		if second >= 0 {
			cl.SecondaryFactor = model.Factors[second]
			cl.SecondaryLoading = row[second]
			cl.Gap = math.Abs(row[first]) - math.Abs(row[second])
			if cl.Gap < minGap {
				dec.ItemsMatched = append(dec.ItemsMatched, cl.Item)
			}
		}
		dec.Loadings = append(dec.Loadings, cl)
	}
	return dec
}

// TopLoadingSelection keeps the strongest primary indicators of each factor
type TopLoadingSelection struct {
	PerFactor map[string][]string `json:"per_factor"`
	Kept      []string            `json:"kept"`
	Dropped   []string            `json:"dropped"`
	Limit     int                 `json:"limit"`
}

// Decision renders the selection as a ledger entry
func (s TopLoadingSelection) Decision() stage.Decision {
	return stage.Decision{
		Stage:        stage.StageTopLoading,
		Rule:         fmt.Sprintf("top %d primary loadings per factor", s.Limit),
		Metric:       "abs_loading",
		Threshold:    float64(s.Limit),
		ItemsMatched: append([]string(nil), s.Dropped...),
		Outcome:      fmt.Sprintf("kept %s", strings.Join(s.Kept, ", ")),
	}
}

// SelectTopLoadingItems ranks each factor's primarily loading items by
// absolute loading and keeps the top perFactor. Ties resolve by item name.
func SelectTopLoadingItems(model psychometrics.FactorModel, perFactor int) TopLoadingSelection {
	sel := TopLoadingSelection{PerFactor: make(map[string][]string), Limit: perFactor}
	byFactor := make(map[int][]int)
	for _, i := range sortedIndex(model.Items) {
		f, ok := model.PrimaryFactor(model.Items[i])
		if ok {
			byFactor[f] = append(byFactor[f], i)
		}
	}
	kept := make(map[string]bool)
	for f, members := range byFactor {
		sort.SliceStable(members, func(a, b int) bool {
			return math.Abs(model.Loadings[members[a]][f]) > math.Abs(model.Loadings[members[b]][f])
		})
		if len(members) > perFactor {
			members = members[:perFactor]
		}
		names := make([]string, len(members))
		for j, i := range members {
			names[j] = model.Items[i]
			kept[model.Items[i]] = true
		}
		sel.PerFactor[model.Factors[f]] = names
	}
	for _, i := range sortedIndex(model.Items) {
		if kept[model.Items[i]] {
			sel.Kept = append(sel.Kept, model.Items[i])
		} else {
			sel.Dropped = append(sel.Dropped, model.Items[i])
		}
	}
	return sel
}

// PruneRound is one refit and the items it flagged
type PruneRound struct {
	Round    int           `json:"round"`
	Items    []string      `json:"items"`
	Decision PruneDecision `json:"decision"`
}

// PruneHistory is the sequence of rounds that led to a clean solution
type PruneHistory struct {
	Rounds []PruneRound              `json:"rounds"`
	Items  dataset.ItemSet           `json:"-"`
	Model  psychometrics.FactorModel `json:"model"`
}

// Removed returns every item removed across rounds, in round order
func (h PruneHistory) Removed() []string {
	var out []string
	for _, r := range h.Rounds {
		out = append(out, r.Decision.ItemsMatched...)
	}
	return out
}

// IterativePrune refits and prunes cross-loading items until a round flags
// nothing. Every round is recorded.
func (a *Analyzer) IterativePrune(ctx context.Context, ds *dataset.Dataset, items dataset.ItemSet, k int, rotation psychometrics.Rotation, minGap float64, maxRounds int) (PruneHistory, error) {
	var hist PruneHistory
	current := items
	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return hist, err
		}
		model, err := a.Fit(ctx, ds, current.Items(), k, rotation)
		if err != nil {
			return hist, err
		}
		dec := PruneCrossLoadings(model, minGap)
		hist.Rounds = append(hist.Rounds, PruneRound{Round: round, Items: current.Items(), Decision: dec})
		if len(dec.ItemsMatched) == 0 {
			hist.Items = current
			hist.Model = model
			a.logger.Info("cross-loading pruning settled after %d rounds with %d items", round, current.Len())
			return hist, nil
		}
		a.logger.Info("round %d: removing %s", round, strings.Join(dec.ItemsMatched, ", "))
		current, err = current.Narrow(string(stage.StageCrossLoadingPrune),
			fmt.Sprintf("loading gap below %.2f in %s", minGap, model.Label), dec.ItemsMatched...)
		if err != nil {
			return hist, err
		}
	}
	return hist, core.NewConvergenceError("cross-loading pruning", current.Items(), maxRounds,
		fmt.Errorf("items still cross-load after %d rounds", maxRounds))
}

func sortedIndex(items []string) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return items[idx[a]] < items[idx[b]] })
	return idx
}
