// Package retest measures the stability of scale scores across two waves:
// Pearson correlation and two-way intraclass correlations.
package retest

import (
	"fmt"
	"math"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/cleaning"
	"arvis/internal/distributions"

	"gonum.org/v1/gonum/stat"
)

// ICCType selects absolute agreement or consistency
type ICCType string

// ICCUnit selects single or average measures
type ICCUnit string

const (
	Agreement   ICCType = "agreement"
	Consistency ICCType = "consistency"

	Single  ICCUnit = "single"
	Average ICCUnit = "average"
)

// PearsonResult is the retest correlation with its t test and Fisher-z interval
type PearsonResult struct {
	N          int     `json:"n"`
	R          float64 `json:"r"`
	T          float64 `json:"t"`
	DF         int     `json:"df"`
	PValue     float64 `json:"p_value"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Confidence float64 `json:"confidence"`
}

// ICCResult is one two-way intraclass correlation with its F test and interval
type ICCResult struct {
	Type       ICCType `json:"type"`
	Unit       ICCUnit `json:"unit"`
	Value      float64 `json:"value"`
	F          float64 `json:"f"`
	DF1        int     `json:"df1"`
	DF2        int     `json:"df2"`
	PValue     float64 `json:"p_value"`
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Confidence float64 `json:"confidence"`
	Warning    string  `json:"warning,omitempty"`
}

// Label renders the McGraw and Wong notation, e.g. ICC(A,1)
func (r ICCResult) Label() string {
	t, u := "C", "1"
	if r.Type == Agreement {
		t = "A"
	}
	if r.Unit == Average {
		u = "k"
	}
	return fmt.Sprintf("ICC(%s,%s)", t, u)
}

// Report collects every retest statistic for one joined sample
type Report struct {
	Join    cleaning.JoinReport `json:"join"`
	N       int                 `json:"n"`
	Pearson PearsonResult       `json:"pearson"`
	ICC     []ICCResult         `json:"icc"`
}

// Decision renders the report as a ledger entry
func (r Report) Decision() stage.Decision {
	outcome := fmt.Sprintf("N=%d, r=%.3f [%.3f, %.3f]", r.N, r.Pearson.R, r.Pearson.Lower, r.Pearson.Upper)
	for _, icc := range r.ICC {
		if icc.Unit == Single {
			outcome += fmt.Sprintf(", %s=%.3f [%.3f, %.3f]", icc.Label(), icc.Value, icc.Lower, icc.Upper)
		}
	}
	return stage.Decision{
		Stage:     stage.StageRetest,
		Rule:      "two-way intraclass correlation",
		Metric:    "icc",
		Threshold: r.Pearson.Confidence,
		Outcome:   outcome,
	}
}

// Analyzer computes retest statistics
type Analyzer struct {
	dist   *distributions.StatisticalDistributions
	logger *internal.Logger
}

// NewAnalyzer creates a retest analyzer
func NewAnalyzer(logger *internal.Logger) *Analyzer {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Analyzer{dist: distributions.New(), logger: logger.Scoped("retest")}
}

// JoinByID pairs the two waves' scores on subject ID in first-wave order.
// Subjects missing from either wave, or with a missing score, are left out.
func (a *Analyzer) JoinByID(t1, t2 psychometrics.CompositeScore) ([]dataset.RetestPair, cleaning.JoinReport) {
	report := cleaning.JoinReport{Left: t1.Name, Right: t2.Name, LeftRows: len(t1.SubjectIDs), RightRows: len(t2.SubjectIDs)}
	second := make(map[string]int, len(t2.SubjectIDs))
	for i, id := range t2.SubjectIDs {
		if _, seen := second[id]; !seen {
			second[id] = i
		}
	}
	matched := make(map[string]bool)
	var pairs []dataset.RetestPair
	for i, id := range t1.SubjectIDs {
		j, ok := second[id]
		if !ok {
			report.UnmatchedLeft++
			continue
		}
		matched[id] = true
		if dataset.Missing(t1.Values[i]) || dataset.Missing(t2.Values[j]) {
			a.logger.Debug("subject %s has a missing score", id)
			continue
		}
		pairs = append(pairs, dataset.RetestPair{SubjectID: id, Time1: t1.Values[i], Time2: t2.Values[j]})
	}
	report.Matched = len(pairs)
	for id := range second {
		if !matched[id] {
			report.UnmatchedRight++
		}
	}
	a.logger.Info("retest join: %d of %d and %d subjects paired", report.Matched, report.LeftRows, report.RightRows)
	return pairs, report
}

func split(pairs []dataset.RetestPair) ([]float64, []float64) {
	x, y := make([]float64, len(pairs)), make([]float64, len(pairs))
	for i, p := range pairs {
		x[i], y[i] = p.Time1, p.Time2
	}
	return x, y
}

// PearsonCorrelation correlates the two waves with a t test on n-2 df and a
// Fisher-z confidence interval
func (a *Analyzer) PearsonCorrelation(pairs []dataset.RetestPair, confidence float64) (PearsonResult, error) {
	n := len(pairs)
	if n < 4 {
		return PearsonResult{}, core.NewInsufficientDataError("retest pairs", n, 4)
	}
	x, y := split(pairs)
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return PearsonResult{}, core.NewAssumptionViolation("retest correlation", "a wave has zero variance")
	}
	res := PearsonResult{N: n, R: r, DF: n - 2, Confidence: confidence}
	res.T = r * math.Sqrt(float64(n-2)/(1-r*r))
	res.PValue = a.dist.CorrelationPValue(r, n)

	z := a.dist.FisherZ(r)
	se := 1 / math.Sqrt(float64(n-3))
	crit := a.dist.NormalQuantile(1 - (1-confidence)/2)
	res.Lower, res.Upper = math.Tanh(z-crit*se), math.Tanh(z+crit*se)
	return res, nil
}

// meanSquares holds the two-way ANOVA decomposition of an n × k table
type meanSquares struct {
	n, k          int
	msr, msc, mse float64
}

func anova(pairs []dataset.RetestPair) meanSquares {
	n, k := len(pairs), 2
	x, y := split(pairs)
	grand := (stat.Mean(x, nil) + stat.Mean(y, nil)) / 2

	ssr, sst := 0.0, 0.0
	for i := range pairs {
		rm := (x[i] + y[i]) / 2
		ssr += (rm - grand) * (rm - grand)
		sst += (x[i]-grand)*(x[i]-grand) + (y[i]-grand)*(y[i]-grand)
	}
	ssr *= float64(k)
	ssc := 0.0
	for _, col := range [][]float64{x, y} {
		cm := stat.Mean(col, nil)
		ssc += (cm - grand) * (cm - grand)
	}
	ssc *= float64(n)
	sse := sst - ssr - ssc

	return meanSquares{
		n:   n,
		k:   k,
		msr: ssr / float64(n-1),
		msc: ssc / float64(k-1),
		mse: sse / float64((n-1)*(k-1)),
	}
}

// IntraclassCorrelation computes a two-way ICC after McGraw and Wong (1996)
// with its F test against zero and confidence interval
func (a *Analyzer) IntraclassCorrelation(pairs []dataset.RetestPair, kind ICCType, unit ICCUnit, confidence float64) (ICCResult, error) {
	if len(pairs) < 3 {
		return ICCResult{}, core.NewInsufficientDataError("retest pairs", len(pairs), 3)
	}
	if kind != Agreement && kind != Consistency {
		return ICCResult{}, fmt.Errorf("unknown ICC type %q", kind)
	}
	ms := anova(pairs)
	if ms.mse <= 0 && ms.msr <= 0 {
		return ICCResult{}, core.NewAssumptionViolation("intraclass correlation", "scores have no variance")
	}
	n, k := float64(ms.n), float64(ms.k)
	res := ICCResult{
		Type:       kind,
		Unit:       unit,
		DF1:        ms.n - 1,
		DF2:        (ms.n - 1) * (ms.k - 1),
		Confidence: confidence,
	}
	if ms.mse <= 1e-12*math.Max(ms.msr, 1) {
		return errorFree(res, ms), nil
	}
	res.F = ms.msr / ms.mse
	res.PValue = a.dist.FTestPValue(res.F, float64(res.DF1), float64(res.DF2))
	upperTail := 1 - (1-confidence)/2

	switch kind {
	case Consistency:
		single := (ms.msr - ms.mse) / (ms.msr + (k-1)*ms.mse)
		fl := res.F / a.dist.FQuantile(upperTail, float64(res.DF1), float64(res.DF2))
		fu := res.F * a.dist.FQuantile(upperTail, float64(res.DF2), float64(res.DF1))
		if unit == Single {
			res.Value = single
			res.Lower, res.Upper = (fl-1)/(fl+k-1), (fu-1)/(fu+k-1)
		} else {
			res.Value = (ms.msr - ms.mse) / ms.msr
			res.Lower, res.Upper = 1-1/fl, 1-1/fu
		}
	case Agreement:
		single := (ms.msr - ms.mse) / (ms.msr + (k-1)*ms.mse + k/n*(ms.msc-ms.mse))
		// Satterthwaite df for the denominator mean square
		aa := k * single / (n * (1 - single))
		bb := 1 + k*single*(n-1)/(n*(1-single))
		v := math.Pow(aa*ms.msc+bb*ms.mse, 2) /
			(math.Pow(aa*ms.msc, 2)/(k-1) + math.Pow(bb*ms.mse, 2)/((n-1)*(k-1)))
		fl := a.dist.FQuantile(upperTail, n-1, v)
		fu := a.dist.FQuantile(upperTail, v, n-1)
		lower := n * (ms.msr - fl*ms.mse) / (fl*(k*ms.msc+(k*n-k-n)*ms.mse) + n*ms.msr)
		upper := n * (fu*ms.msr - ms.mse) / (k*ms.msc + (k*n-k-n)*ms.mse + n*fu*ms.msr)
		if unit == Single {
			res.Value = single
			res.Lower, res.Upper = lower, upper
		} else {
			res.Value = (ms.msr - ms.mse) / (ms.msr + (ms.msc-ms.mse)/n)
			res.Lower, res.Upper = spearmanBrown(lower, k), spearmanBrown(upper, k)
		}
	default:
		return ICCResult{}, fmt.Errorf("unknown ICC type %q", kind)
	}
	return res, nil
}

// errorFree covers waves with no residual variance, such as identical scores
// or a constant shift: F is unbounded and the interval collapses to the
// point estimate
func errorFree(res ICCResult, ms meanSquares) ICCResult {
	n, k := float64(ms.n), float64(ms.k)
	res.Value = 1
	if res.Type == Agreement {
		if res.Unit == Single {
			res.Value = ms.msr / (ms.msr + k/n*ms.msc)
		} else {
			res.Value = ms.msr / (ms.msr + ms.msc/n)
		}
	}
	res.F, res.PValue = math.Inf(1), 0
	res.Lower, res.Upper = res.Value, res.Value
	res.Warning = "no within-subject error variance, interval collapses to the estimate"
	return res
}

// spearmanBrown steps a single-measure reliability up to the mean of k measures
func spearmanBrown(r, k float64) float64 {
	return k * r / (1 + (k-1)*r)
}

// Analyze joins the waves and reports the Pearson correlation and all four
// two-way ICC variants
func (a *Analyzer) Analyze(t1, t2 psychometrics.CompositeScore, confidence float64) (Report, error) {
	pairs, join := a.JoinByID(t1, t2)
	return a.AnalyzePairs(pairs, join, confidence)
}

// AnalyzePairs reports on already joined pairs
func (a *Analyzer) AnalyzePairs(pairs []dataset.RetestPair, join cleaning.JoinReport, confidence float64) (Report, error) {
	report := Report{Join: join, N: len(pairs)}
	var err error
	if report.Pearson, err = a.PearsonCorrelation(pairs, confidence); err != nil {
		return report, err
	}
	for _, kind := range []ICCType{Agreement, Consistency} {
		for _, unit := range []ICCUnit{Single, Average} {
			icc, err := a.IntraclassCorrelation(pairs, kind, unit, confidence)
			if err != nil {
				return report, err
			}
			report.ICC = append(report.ICC, icc)
		}
	}
	return report, nil
}
