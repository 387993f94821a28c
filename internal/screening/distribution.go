package screening

import (
	"fmt"
	"math"
	"sort"

	"arvis/domain/core"
	"arvis/domain/dataset"

	"github.com/montanaflynn/stats"
)

// Skew metrics
const (
	MetricModalProportion    = "modal_proportion"
	MetricEndpointProportion = "endpoint_proportion"
	MetricAbsSkewness        = "abs_skewness"
)

// ItemDistribution summarizes the response distribution of one item
type ItemDistribution struct {
	Item               string      `json:"item"`
	N                  int         `json:"n"`
	Frequencies        map[int]int `json:"frequencies"`
	ModalCategory      int         `json:"modal_category"`
	ModalProportion    float64     `json:"modal_proportion"`
	EndpointProportion float64     `json:"endpoint_proportion"`
	Mean               float64     `json:"mean"`
	SD                 float64     `json:"sd"`
	Skewness           float64     `json:"skewness"`
	Kurtosis           float64     `json:"kurtosis"`
}

// Metric returns the named skew metric
func (d ItemDistribution) Metric(name string) (float64, error) {
	switch name {
	case MetricModalProportion:
		return d.ModalProportion, nil
	case MetricEndpointProportion:
		return d.EndpointProportion, nil
	case MetricAbsSkewness:
		return math.Abs(d.Skewness), nil
	default:
		return 0, fmt.Errorf("unknown skew metric %q", name)
	}
}

// SkewRule flags items whose metric is at or above the threshold
type SkewRule struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
}

func (r SkewRule) String() string {
	return fmt.Sprintf("%s >= %.2f", r.Metric, r.Threshold)
}

// Profile summarizes each item's observed responses. The scale endpoints are
// the lowest and highest category observed across all profiled items.
func Profile(ds *dataset.Dataset, items []string) ([]ItemDistribution, error) {
	if err := ds.RequireColumns(items...); err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	columns := make([][]float64, len(items))
	for i, item := range items {
		col, _ := ds.Column(item)
		var observed []float64
		for _, v := range col {
			if !dataset.Missing(v) {
				observed = append(observed, v)
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
		if len(observed) == 0 {
			return nil, core.NewInsufficientDataError("responses to "+item, 0, 1)
		}
		columns[i] = observed
	}

	out := make([]ItemDistribution, len(items))
	for i, item := range items {
		d, err := describe(item, columns[i], int(lo), int(hi))
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func describe(item string, data []float64, lo, hi int) (ItemDistribution, error) {
	d := ItemDistribution{Item: item, N: len(data), Frequencies: make(map[int]int)}
	for _, v := range data {
		d.Frequencies[int(math.Round(v))]++
	}

	cats := make([]int, 0, len(d.Frequencies))
	for c := range d.Frequencies {
		cats = append(cats, c)
	}
	sort.Ints(cats)
	d.ModalCategory = cats[0]
	for _, c := range cats[1:] {
		// ties resolve to the lowest category
		if d.Frequencies[c] > d.Frequencies[d.ModalCategory] {
			d.ModalCategory = c
		}
	}
	n := float64(len(data))
	d.ModalProportion = float64(d.Frequencies[d.ModalCategory]) / n
	d.EndpointProportion = math.Max(float64(d.Frequencies[lo]), float64(d.Frequencies[hi])) / n

	var err error
	if d.Mean, err = stats.Mean(data); err != nil {
		return d, err
	}
	if len(data) > 1 {
		if d.SD, err = stats.StandardDeviationSample(data); err != nil {
			return d, err
		}
	}
	popSD, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return d, err
	}
	d.Skewness = skewness(data, d.Mean, popSD)
	d.Kurtosis = excessKurtosis(data, d.Mean, popSD)
	return d, nil
}

// skewness is the adjusted Fisher-Pearson coefficient
func skewness(data []float64, mean, popSD float64) float64 {
	if len(data) < 3 || popSD == 0 {
		return 0
	}
	n := float64(len(data))
	sum := 0.0
	for _, x := range data {
		z := (x - mean) / popSD
		sum += z * z * z
	}
	return sum / n * math.Sqrt(n*(n-1)) / (n - 2)
}

// excessKurtosis is the bias-corrected G2 estimator
func excessKurtosis(data []float64, mean, popSD float64) float64 {
	if len(data) < 4 || popSD == 0 {
		return 0
	}
	n := float64(len(data))
	sum := 0.0
	for _, x := range data {
		z := (x - mean) / popSD
		sum += z * z * z * z
	}
	g2 := sum/n - 3
	return ((n+1)*g2 + 6) * (n - 1) / ((n - 2) * (n - 3))
}

// FlagSkewed applies the skew rule to every item
func FlagSkewed(ds *dataset.Dataset, items []string, rule SkewRule) (ScreeningDecision, []ItemDistribution, error) {
	profiles, err := Profile(ds, items)
	if err != nil {
		return ScreeningDecision{}, nil, err
	}
	dec := ScreeningDecision{
		Rule:      rule.String(),
		Metric:    rule.Metric,
		Threshold: rule.Threshold,
		Values:    make(map[string]float64, len(items)),
	}
	for _, p := range profiles {
		v, err := p.Metric(rule.Metric)
		if err != nil {
			return ScreeningDecision{}, nil, err
		}
		dec.Values[p.Item] = v
		if v >= rule.Threshold {
			dec.ItemsMatched = append(dec.ItemsMatched, p.Item)
		}
	}
	sort.Strings(dec.ItemsMatched)
	return dec, profiles, nil
}
