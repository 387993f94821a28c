package screening

import (
	"fmt"
	"sort"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ComputeInterItemCorrelation returns the Pearson correlation matrix of the
// items over the rows where every item is observed
func ComputeInterItemCorrelation(ds *dataset.Dataset, items []string) (psychometrics.CorrelationMatrix, error) {
	if len(items) < 2 {
		return psychometrics.CorrelationMatrix{}, core.NewInsufficientDataError("items to correlate", len(items), 2)
	}
	complete, err := ds.CompleteMatrix(items)
	if err != nil {
		return psychometrics.CorrelationMatrix{}, err
	}
	if complete.RawMatrix().Rows < 3 {
		return psychometrics.CorrelationMatrix{}, core.NewInsufficientDataError("complete rows", complete.RawMatrix().Rows, 3)
	}

	for j, item := range items {
		col := mat.Col(nil, j, complete)
		if stat.Variance(col, nil) == 0 {
			return psychometrics.CorrelationMatrix{}, core.NewAssumptionViolation("item variance",
				fmt.Sprintf("%s has zero variance", item))
		}
	}

	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, complete, nil)
	for i := range items {
		corr.SetSym(i, i, 1)
	}
	return psychometrics.CorrelationMatrix{
		Items:  append([]string(nil), items...),
		Values: &corr,
		N:      complete.RawMatrix().Rows,
	}, nil
}

// LowCorrelationItems flags items whose mean correlation with the other items
// falls below threshold
func LowCorrelationItems(cm psychometrics.CorrelationMatrix, threshold float64) ScreeningDecision {
	means := cm.MeanInterItem()
	dec := ScreeningDecision{
		Rule:      fmt.Sprintf("mean_inter_item_r < %.2f", threshold),
		Metric:    "mean_inter_item_r",
		Threshold: threshold,
		Values:    means,
	}
	for item, r := range means {
		if r < threshold {
			dec.ItemsMatched = append(dec.ItemsMatched, item)
		}
	}
	sort.Strings(dec.ItemsMatched)
	return dec
}
