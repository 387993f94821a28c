package validity

import (
	"fmt"
	"math"
	"sort"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/internal"
	"arvis/internal/distributions"

	"gonum.org/v1/gonum/stat"
)

// Analyzer correlates scale scores with external measures
type Analyzer struct {
	dist    *distributions.StatisticalDistributions
	ordinal map[string]bool
	logger  *internal.Logger
}

// NewAnalyzer creates a validity analyzer. Pairs involving an ordinal
// variable are always correlated by rank.
func NewAnalyzer(ordinal []string, logger *internal.Logger) *Analyzer {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	a := &Analyzer{dist: distributions.New(), ordinal: make(map[string]bool), logger: logger.Scoped("validity")}
	for _, o := range ordinal {
		a.ordinal[o] = true
	}
	return a
}

func (a *Analyzer) methodFor(x, y string, method psychometrics.CorrelationMethod) psychometrics.CorrelationMethod {
	if a.ordinal[x] || a.ordinal[y] {
		return psychometrics.Spearman
	}
	return method
}

// completePairs returns the columns restricted to rows where all are observed
func completePairs(ds *dataset.Dataset, names ...string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for j, n := range names {
		c, err := ds.Column(n)
		if err != nil {
			return nil, err
		}
		cols[j] = c
	}
	out := make([][]float64, len(names))
	for i := 0; i < ds.Rows(); i++ {
		complete := true
		for j := range cols {
			if dataset.Missing(cols[j][i]) {
				complete = false
				break
			}
		}
		if complete {
			for j := range cols {
				out[j] = append(out[j], cols[j][i])
			}
		}
	}
	return out, nil
}

// Ranks assigns average ranks, starting at 1, with ties sharing their mean rank
func Ranks(x []float64) []float64 {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	ranks := make([]float64, len(x))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

func coefficient(x, y []float64, method psychometrics.CorrelationMethod) (float64, error) {
	switch method {
	case psychometrics.Pearson:
		return stat.Correlation(x, y, nil), nil
	case psychometrics.Spearman:
		return stat.Correlation(Ranks(x), Ranks(y), nil), nil
	default:
		return 0, fmt.Errorf("unknown correlation method %q", method)
	}
}

// Correlate computes one coefficient over pairwise complete rows
func (a *Analyzer) Correlate(ds *dataset.Dataset, x, y string, method psychometrics.CorrelationMethod) (psychometrics.CorrelationResult, error) {
	cols, err := completePairs(ds, x, y)
	if err != nil {
		return psychometrics.CorrelationResult{}, err
	}
	n := len(cols[0])
	if n < 3 {
		return psychometrics.CorrelationResult{}, core.NewInsufficientDataError(fmt.Sprintf("correlation of %s and %s", x, y), n, 3)
	}
	method = a.methodFor(x, y, method)
	r, err := coefficient(cols[0], cols[1], method)
	if err != nil {
		return psychometrics.CorrelationResult{}, err
	}
	if math.IsNaN(r) {
		return psychometrics.CorrelationResult{}, core.NewAssumptionViolation("correlation",
			fmt.Sprintf("%s or %s has zero variance", x, y))
	}
	return psychometrics.CorrelationResult{
		X:      x,
		Y:      y,
		Method: method,
		R:      r,
		PValue: a.dist.CorrelationPValue(r, n),
		N:      n,
	}, nil
}

// CorrelationMatrix correlates every pair of variables in the order given
func (a *Analyzer) CorrelationMatrix(ds *dataset.Dataset, variables []string, method psychometrics.CorrelationMethod) ([]psychometrics.CorrelationResult, error) {
	var out []psychometrics.CorrelationResult
	for i := 0; i < len(variables); i++ {
		for j := i + 1; j < len(variables); j++ {
			res, err := a.Correlate(ds, variables[i], variables[j], method)
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
	}
	return out, nil
}
