package factor

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"arvis/domain/core"
	"arvis/domain/stage"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// EigenRow compares one observed eigenvalue with its simulated distribution
type EigenRow struct {
	Factor            int     `json:"factor"`
	Observed          float64 `json:"observed"`
	SimulatedMean     float64 `json:"simulated_mean"`
	SimulatedQuantile float64 `json:"simulated_quantile"`
}

// ParallelAnalysisResult is the eigenvalue table and the count it recommends
type ParallelAnalysisResult struct {
	Items       []string   `json:"items"`
	N           int        `json:"n"`
	Iterations  int        `json:"iterations"`
	Quantile    float64    `json:"quantile"`
	Seed        int64      `json:"seed"`
	Rows        []EigenRow `json:"rows"`
	Recommended int        `json:"recommended"`
}

// ParallelAnalysis compares the eigenvalues of the observed correlation
// matrix with those of random normal data of the same shape. The recommended
// count is the leading run of observed eigenvalues above the simulated
// quantile. Iterations run concurrently, each on its own derived seed.
func (a *Analyzer) ParallelAnalysis(ctx context.Context, responses *mat.Dense, items []string, iterations int, quantile float64, seed int64) (ParallelAnalysisResult, error) {
	n, p := responses.Dims()
	if iterations < 1 {
		return ParallelAnalysisResult{}, fmt.Errorf("parallel analysis needs at least one iteration, got %d", iterations)
	}
	if quantile <= 0 || quantile >= 1 {
		return ParallelAnalysisResult{}, fmt.Errorf("parallel analysis quantile %.3f is outside (0, 1)", quantile)
	}
	if n < 3 {
		return ParallelAnalysisResult{}, core.NewInsufficientDataError("parallel analysis rows", n, 3)
	}

	observed, err := eigenvalues(responses, items)
	if err != nil {
		return ParallelAnalysisResult{}, err
	}

	simulated := make([][]float64, iterations)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for it := 0; it < iterations; it++ {
		it := it
		g.Go(func() error {
			rng, err := a.rng.Stream(gctx, string(stage.StageParallelAnalysis), fmt.Sprintf("iter-%d", it), seed)
			if err != nil {
				return err
			}
			data := mat.NewDense(n, p, nil)
			for i := 0; i < n; i++ {
				for j := 0; j < p; j++ {
					data.Set(i, j, rng.NormFloat64())
				}
			}
			ev, err := eigenvalues(data, items)
			if err != nil {
				return err
			}
			simulated[it] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ParallelAnalysisResult{}, err
	}

	res := ParallelAnalysisResult{
		Items:      append([]string(nil), items...),
		N:          n,
		Iterations: iterations,
		Quantile:   quantile,
		Seed:       seed,
		Rows:       make([]EigenRow, p),
	}
	leading := true
	for k := 0; k < p; k++ {
		column := make([]float64, iterations)
		for it := range simulated {
			column[it] = simulated[it][k]
		}
		mean, _ := stats.Mean(column)
		q, err := stats.Percentile(column, quantile*100)
		if err != nil {
			return ParallelAnalysisResult{}, err
		}
		res.Rows[k] = EigenRow{Factor: k + 1, Observed: observed[k], SimulatedMean: mean, SimulatedQuantile: q}
		if leading && observed[k] > q {
			res.Recommended = k + 1
		} else {
			leading = false
		}
	}
	a.logger.Info("parallel analysis over %d items, %d iterations: %d factors", p, iterations, res.Recommended)
	return res, nil
}

// Decision renders the recommendation as a ledger entry
func (r ParallelAnalysisResult) Decision() stage.Decision {
	return stage.Decision{
		Stage:     stage.StageParallelAnalysis,
		Rule:      fmt.Sprintf("observed eigenvalue > simulated P%.0f", r.Quantile*100),
		Metric:    "recommended_factors",
		Threshold: r.Quantile,
		Outcome:   fmt.Sprintf("%d factors recommended over %d iterations (seed %d)", r.Recommended, r.Iterations, r.Seed),
	}
}

// eigenvalues returns the principal-component eigenvalues of the data's
// correlation matrix in descending order
func eigenvalues(data mat.Matrix, items []string) ([]float64, error) {
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, data, nil)
	var eig mat.EigenSym
	if !eig.Factorize(&corr, false) {
		return nil, core.NewSingularMatrixError("eigen decomposition", items)
	}
	values := eig.Values(nil)
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
	return values, nil
}
