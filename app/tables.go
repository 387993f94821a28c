package app

import (
	"sort"
	"strings"

	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
	"arvis/internal/confirmatory"
	"arvis/internal/factor"
	"arvis/internal/retest"
	"arvis/internal/screening"
	"arvis/ports"
)

func datasetTable(name string, ds *dataset.Dataset) ports.Table {
	t := ports.Table{Name: name, Columns: append([]string{ds.IDColumn}, ds.Columns...)}
	for r, row := range ds.Values {
		cells := make([]interface{}, 0, len(row)+1)
		cells = append(cells, ds.SubjectIDs[r])
		for _, v := range row {
			cells = append(cells, v)
		}
		t.AddRow(cells...)
	}
	return t
}

func distributionTable(name string, profile []screening.ItemDistribution, flagged []string) ports.Table {
	t := ports.Table{Name: name, Columns: []string{
		"item", "n", "modal_category", "modal_proportion", "endpoint_proportion",
		"mean", "sd", "skewness", "kurtosis", "flagged",
	}}
	for _, d := range profile {
		t.AddRow(d.Item, d.N, d.ModalCategory, d.ModalProportion, d.EndpointProportion,
			d.Mean, d.SD, d.Skewness, d.Kurtosis, contains(flagged, d.Item))
	}
	return t
}

func correlationTable(name string, cm psychometrics.CorrelationMatrix) ports.Table {
	t := ports.Table{Name: name, Columns: append([]string{"item"}, cm.Items...)}
	means := cm.MeanInterItem()
	t.Columns = append(t.Columns, "mean_inter_item_r")
	for i, a := range cm.Items {
		cells := []interface{}{a}
		for j := range cm.Items {
			cells = append(cells, cm.Values.At(i, j))
		}
		cells = append(cells, means[a])
		t.AddRow(cells...)
	}
	return t
}

func parallelTable(name string, pa factor.ParallelAnalysisResult) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"factor", "observed", "simulated_mean", "simulated_quantile", "retained"}}
	for _, row := range pa.Rows {
		t.AddRow(row.Factor, row.Observed, row.SimulatedMean, row.SimulatedQuantile, row.Factor <= pa.Recommended)
	}
	return t
}

func factorCountTable(name string, d factor.FactorCountDecision) ports.Table {
	t := ports.Table{Name: name, Columns: []string{
		"factors", "chi_square", "df", "p_value", "bic", "rmsea", "rmsea_lower", "rmsea_upper", "tli", "chosen",
	}}
	for _, r := range d.Table {
		t.AddRow(r.Factors, r.ChiSquare, r.DF, r.PValue, r.BIC, r.RMSEA, r.RMSEALower, r.RMSEAUpper, r.TLI, r.Factors == d.Chosen)
	}
	return t
}

// loadingsTable lists one row per item with its loadings, communality and uniqueness
func loadingsTable(name string, m psychometrics.FactorModel) ports.Table {
	t := ports.Table{Name: name, Columns: append(append([]string{"item"}, m.Factors...), "communality", "uniqueness")}
	for i, item := range m.Items {
		cells := []interface{}{item}
		h2 := 0.0
		for _, l := range m.Loadings[i] {
			cells = append(cells, l)
			h2 += l * l
		}
		u := 1 - h2
		if i < len(m.Uniquenesses) {
			u = m.Uniquenesses[i]
		}
		cells = append(cells, h2, u)
		t.AddRow(cells...)
	}
	return t
}

func reliabilityTable(name string, reports map[string]psychometrics.ReliabilityReport) ports.Table {
	t := ports.Table{Name: name, Columns: []string{
		"scale", "items", "n", "alpha", "standardized_alpha", "omega_hierarchical", "omega_total", "group_factors", "warnings",
	}}
	for _, scale := range sortedKeys(reports) {
		r := reports[scale]
		var warnings []string
		for _, w := range r.Warnings {
			warnings = append(warnings, w.Kind)
		}
		t.AddRow(scale, len(r.Items), r.N, r.Alpha, r.StandardizedAlpha, r.OmegaHierarchical, r.OmegaTotal,
			r.GroupFactors, strings.Join(warnings, ";"))
	}
	return t
}

func alphaIfDroppedTable(name string, r psychometrics.ReliabilityReport) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"item", "alpha_if_dropped", "general_loading"}}
	for _, item := range r.Items {
		t.AddRow(item, r.AlphaIfDropped[item], r.GeneralLoadings[item])
	}
	return t
}

func modelComparisonTable(name string, ranked []confirmatory.RankedModel) ports.Table {
	t := ports.Table{Name: name, Columns: []string{
		"rank", "model", "factors", "free_parameters", "chi_square", "df", "p_value", "cfi", "tli",
		"rmsea", "rmsea_lower", "rmsea_upper", "srmr", "aic", "bic", "max_factor_r", "class",
	}}
	for _, r := range ranked {
		f := r.Fit
		t.AddRow(r.Rank, r.Label, r.Factors, r.FreeParameters, f.ChiSquare, f.DF, f.PValue, f.CFI, f.TLI,
			f.RMSEA, f.RMSEALower, f.RMSEAUpper, f.SRMR, f.AIC, f.BIC, r.MaxFactorR, string(r.Overall))
	}
	return t
}

func modificationTable(name string, mis []psychometrics.ModificationIndex) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"parameter", "kind", "mi", "epc"}}
	for _, mi := range mis {
		t.AddRow(mi.Label(), string(mi.Kind), mi.MI, mi.EPC)
	}
	return t
}

func lrtTable(name string, tests []confirmatory.LRTResult, alpha float64) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"restricted", "full", "chi_square_diff", "df_diff", "p_value", "significant"}}
	for _, r := range tests {
		t.AddRow(r.Restricted, r.Full, r.ChiSquareDiff, r.DFDiff, r.PValue, r.Significant(alpha))
	}
	return t
}

func correlationsTable(name string, results []psychometrics.CorrelationResult) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"x", "y", "method", "r", "p_value", "n"}}
	for _, r := range results {
		t.AddRow(r.X, r.Y, string(r.Method), r.R, r.PValue, r.N)
	}
	return t
}

func comparisonsTable(name string, comps []psychometrics.ValidityComparison, alpha float64) ports.Table {
	t := ports.Table{Name: name, Columns: []string{
		"target", "convergent", "divergent", "r_jk", "r_jh", "r_kh", "n", "z", "p_value", "method", "significant",
	}}
	for _, c := range comps {
		t.AddRow(c.Target, c.Convergent, c.Divergent, c.RJK, c.RJH, c.RKH, c.N, c.Z, c.PValue, string(c.Method), c.Significant(alpha))
	}
	return t
}

func retestPairsTable(name string, pairs []dataset.RetestPair) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"subject_id", "time1", "time2"}}
	for _, p := range pairs {
		t.AddRow(p.SubjectID, p.Time1, p.Time2)
	}
	return t
}

func retestTable(name string, r retest.Report) ports.Table {
	t := ports.Table{Name: name, Columns: []string{"statistic", "value", "f", "df1", "df2", "p_value", "lower", "upper", "confidence"}}
	p := r.Pearson
	t.AddRow("pearson_r", p.R, p.T, p.DF, 0, p.PValue, p.Lower, p.Upper, p.Confidence)
	for _, icc := range r.ICC {
		t.AddRow(icc.Label(), icc.Value, icc.F, icc.DF1, icc.DF2, icc.PValue, icc.Lower, icc.Upper, icc.Confidence)
	}
	return t
}

func ledgerTable(result *stage.PipelineResult) ports.Table {
	t := ports.Table{Name: "decision_ledger", Columns: []string{
		"study", "stage", "rule", "metric", "threshold", "items_matched", "outcome", "rationale",
	}}
	for _, res := range result.Results {
		for _, d := range res.Decisions {
			t.AddRow(string(res.Study), string(d.Stage), d.Rule, d.Metric, d.Threshold,
				strings.Join(d.ItemsMatched, ";"), d.Outcome, d.Rationale)
		}
	}
	return t
}

func stageTable(result *stage.PipelineResult) ports.Table {
	t := ports.Table{Name: "stages", Columns: []string{"study", "stage", "success", "items_before", "items_after", "warnings", "duration_ms"}}
	for _, res := range result.Results {
		t.AddRow(string(res.Study), string(res.StageName), res.Success, res.ItemsBefore, res.ItemsAfter,
			len(res.Warnings), res.Duration)
	}
	return t
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
