package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/cleaning"
	"arvis/internal/config"
	"arvis/internal/factor"
	"arvis/internal/reliability"
	"arvis/internal/screening"
	"arvis/ports"
)

// DevelopmentResult is everything Study 1 decided. Items is frozen and is
// the item set handed to the later studies.
type DevelopmentResult struct {
	Cleaned     *dataset.Dataset
	Items       dataset.ItemSet
	Profile     []screening.ItemDistribution
	Correlation psychometrics.CorrelationMatrix
	Sphericity  factor.SphericityResult
	KMO         factor.KMOResult
	Parallel    factor.ParallelAnalysisResult
	FactorCount factor.FactorCountDecision
	Candidates  []psychometrics.FactorModel
	Prune       factor.PruneHistory
	TopLoading  factor.TopLoadingSelection
	Model       psychometrics.FactorModel
	Reliability map[string]psychometrics.ReliabilityReport
	Subscales   map[string][]string
}

// DevelopmentService runs Study 1: cleaning, screening, exploratory factor
// analysis, item reduction and reliability
type DevelopmentService struct {
	cfg         *config.Config
	runner      *StageRunner
	cleaner     *cleaning.Cleaner
	factors     *factor.Analyzer
	reliability *reliability.Estimator
	logger      *internal.Logger
}

// NewDevelopmentService creates the Study 1 service
func NewDevelopmentService(cfg *config.Config, runner *StageRunner, reader ports.DatasetReader, estimator ports.FactorEstimator, logger *internal.Logger) *DevelopmentService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &DevelopmentService{
		cfg:         cfg,
		runner:      runner,
		cleaner:     cleaning.NewCleaner(reader, logger),
		factors:     factor.NewAnalyzer(estimator, runner.RNG(), cfg.Factor.MaxIterations, logger),
		reliability: reliability.NewEstimator(estimator, cfg.Factor.MaxIterations, logger),
		logger:      logger.Scoped("study1"),
	}
}

// Clean loads Study 1 and applies the attention check and complete-case rules
func (s *DevelopmentService) Clean(ctx context.Context) (*dataset.Dataset, dataset.ItemSet, error) {
	const study = stage.StudyDevelopment
	var (
		ds    *dataset.Dataset
		items dataset.ItemSet
	)

	err := s.runner.Run(ctx, study, stage.StageLoad, func(ctx context.Context, out *StageOutput) error {
		var err error
		ds, err = s.cleaner.Load(ctx, s.cfg.Inputs.Study1, "arvis_wide", s.cfg.Inputs.IDColumn)
		if err != nil {
			return err
		}
		items, err = dataset.ItemSetFromColumns(ds, s.cfg.Inputs.ItemPrefix)
		if err != nil {
			return err
		}
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		out.Decide(stage.Decision{
			Rule:         fmt.Sprintf("columns prefixed %q are items", s.cfg.Inputs.ItemPrefix),
			Metric:       "items",
			Threshold:    1,
			ItemsMatched: items.Items(),
			Outcome:      fmt.Sprintf("%d rows, %d items", ds.Rows(), items.Len()),
		})
		return nil
	})
	if err != nil {
		return nil, items, err
	}

	err = s.runner.Run(ctx, study, stage.StageAttentionCheck, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		if s.cfg.Cleaning.AttentionColumn == "" {
			out.Warn("no attention column configured")
			return nil
		}
		cleaned, report, err := s.cleaner.ApplyAttentionCheck(ds, s.cfg.Cleaning.AttentionColumn, s.cfg.Cleaning.AttentionValue)
		if err != nil {
			return err
		}
		ds = cleaned
		out.Decide(report.Decision(stage.StageAttentionCheck,
			fmt.Sprintf("%s == %g", s.cfg.Cleaning.AttentionColumn, s.cfg.Cleaning.AttentionValue),
			s.cfg.Cleaning.AttentionValue))
		return nil
	})
	if err != nil {
		return nil, items, err
	}

	err = s.runner.Run(ctx, study, stage.StageDropIncomplete, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		cleaned, report, err := s.cleaner.DropIncomplete(ds)
		if err != nil {
			return err
		}
		ds = cleaned
		out.Decide(report.Decision(stage.StageDropIncomplete, "every column answered", 0))
		out.Emit(datasetTable("study1_cleaned", ds))
		return nil
	})
	return ds, items, err
}

// Screen applies the distribution and inter-item correlation rules
func (s *DevelopmentService) Screen(ctx context.Context, ds *dataset.Dataset, items dataset.ItemSet) (dataset.ItemSet, *DevelopmentResult, error) {
	const study = stage.StudyDevelopment
	res := &DevelopmentResult{Cleaned: ds}

	err := s.runner.Run(ctx, study, stage.StageDistributionScreen, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore = items.Len()
		rule := screening.SkewRule{Metric: s.cfg.Screening.SkewMetric, Threshold: s.cfg.Screening.SkewThreshold}
		decision, profile, err := screening.FlagSkewed(ds, items.Items(), rule)
		if err != nil {
			return err
		}
		res.Profile = profile
		if items, err = items.Narrow(string(stage.StageDistributionScreen), rule.String(), decision.ItemsMatched...); err != nil {
			return err
		}
		out.ItemsAfter = items.Len()
		out.Decide(decision.Decision(stage.StageDistributionScreen))
		screened, err := ds.SelectColumns(items.Items())
		if err != nil {
			return err
		}
		out.Emit(distributionTable("study1_distribution", profile, decision.ItemsMatched), datasetTable("study1_screened", screened))
		return nil
	})
	if err != nil {
		return items, res, err
	}

	err = s.runner.Run(ctx, study, stage.StageCorrelationScreen, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore = items.Len()
		cm, err := screening.ComputeInterItemCorrelation(ds, items.Items())
		if err != nil {
			return err
		}
		decision := screening.LowCorrelationItems(cm, s.cfg.Screening.MinInterItemR)
		if items, err = items.Narrow(string(stage.StageCorrelationScreen), decision.Rule, decision.ItemsMatched...); err != nil {
			return err
		}
		out.ItemsAfter = items.Len()
		out.Decide(decision.Decision(stage.StageCorrelationScreen))
		out.Emit(correlationTable("study1_inter_item_r", cm))
		return nil
	})
	return items, res, err
}

// Run executes the whole of Study 1 and returns the frozen final item set
func (s *DevelopmentService) Run(ctx context.Context) (*DevelopmentResult, error) {
	ds, items, err := s.Clean(ctx)
	if err != nil {
		return nil, err
	}
	items, res, err := s.Screen(ctx, ds, items)
	if err != nil {
		return res, err
	}
	if err := s.Explore(ctx, ds, items, res); err != nil {
		return res, err
	}
	return res, nil
}

// Explore runs the factor-analytic stages on screened items, fills res and
// freezes the final item set
func (s *DevelopmentService) Explore(ctx context.Context, ds *dataset.Dataset, items dataset.ItemSet, res *DevelopmentResult) error {
	const study = stage.StudyDevelopment
	rotation := psychometrics.Rotation(s.cfg.Factor.Rotation)
	res.Cleaned = ds

	err := s.runner.Run(ctx, study, stage.StageSphericity, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		cm, err := screening.ComputeInterItemCorrelation(ds, items.Items())
		if err != nil {
			return err
		}
		res.Correlation = cm
		sph, err := factor.BartlettSphericity(cm, s.cfg.Factor.SphericityAlpha)
		res.Sphericity = sph
		out.Decide(sph.Decision(s.cfg.Factor.SphericityAlpha))
		if core.IsAssumptionViolation(err) && !s.cfg.Factor.RequireSphericity {
			out.Warn("%v; continuing because factor.require_sphericity is off", err)
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	err = s.runner.Run(ctx, study, stage.StageSamplingAdequacy, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		kmo, err := factor.KMO(res.Correlation)
		if err != nil {
			return err
		}
		res.KMO = kmo
		out.Decide(kmo.Decision(s.cfg.Factor.KMOMinimum))
		if low := kmo.LowItems(s.cfg.Factor.KMOMinimum); len(low) > 0 {
			out.Warn("items below KMO %.2f: %v", s.cfg.Factor.KMOMinimum, low)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = s.runner.Run(ctx, study, stage.StageParallelAnalysis, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		responses, err := ds.CompleteMatrix(items.Items())
		if err != nil {
			return err
		}
		pa, err := s.factors.ParallelAnalysis(ctx, responses, items.Items(), s.cfg.Factor.PAIterations, s.cfg.Factor.PAQuantile, s.cfg.Seed)
		if err != nil {
			return err
		}
		res.Parallel = pa
		out.Decide(pa.Decision())
		out.Emit(parallelTable("study1_parallel_analysis", pa))
		return nil
	})
	if err != nil {
		return err
	}

	err = s.runner.Run(ctx, study, stage.StageFactorCount, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		maxFactors := s.cfg.Factor.MaxFactors
		if res.Parallel.Recommended+1 > maxFactors {
			maxFactors = res.Parallel.Recommended + 1
		}
		models, err := s.factors.FitRange(ctx, ds, items.Items(), maxFactors, rotation)
		if err != nil {
			return err
		}
		res.Candidates = models
		count, err := factor.SelectFactorCount(models)
		if err != nil {
			return err
		}
		res.FactorCount = count
		out.Decide(count.Decision())
		if count.Chosen != res.Parallel.Recommended {
			out.Warn("parallel analysis suggests %d factors, BIC chose %d", res.Parallel.Recommended, count.Chosen)
		}
		out.Emit(factorCountTable("study1_factor_count", count))
		for _, m := range models {
			out.Emit(loadingsTable("study1_loadings_"+m.Label, m))
		}
		return nil
	})
	if err != nil {
		return err
	}
	k := res.FactorCount.Chosen

	err = s.runner.Run(ctx, study, stage.StageCrossLoadingPrune, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore = items.Len()
		history, err := s.factors.IterativePrune(ctx, ds, items, k, rotation, s.cfg.Factor.MinLoadingGap, s.cfg.Factor.MaxPruneRounds)
		if err != nil {
			return err
		}
		res.Prune = history
		items = history.Items
		out.ItemsAfter = items.Len()
		for _, round := range history.Rounds {
			out.Decide(round.Decision.Decision())
		}
		out.Emit(loadingsTable("study1_loadings_pruned", history.Model))
		return nil
	})
	if err != nil {
		return err
	}

	err = s.runner.Run(ctx, study, stage.StageTopLoading, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore = items.Len()
		sel := factor.SelectTopLoadingItems(res.Prune.Model, s.cfg.Factor.ItemsPerFactor)
		res.TopLoading = sel
		var err error
		if items, err = items.Retain(string(stage.StageTopLoading), fmt.Sprintf("top %d loadings per factor", sel.Limit), sel.Kept); err != nil {
			return err
		}
		out.ItemsAfter = items.Len()
		out.Decide(sel.Decision())

		model, err := s.factors.Fit(ctx, ds, items.Items(), k, rotation)
		if err != nil {
			return err
		}
		res.Model = model
		for _, w := range model.Warnings {
			out.Warn("%s", w.Message)
		}
		out.Emit(loadingsTable("study1_loadings_final", model))
		return nil
	})
	if err != nil {
		return err
	}

	res.Subscales = Subscales(res.Model)
	err = s.runner.Run(ctx, study, stage.StageReliability, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		reports, err := computeReliability(ctx, s.reliability, ds, items.Items(), res.Subscales, groupFactors(s.cfg, k))
		if err != nil {
			return err
		}
		res.Reliability = reports
		out.Decide(reliabilityDecision(reports))
		for _, r := range reports {
			for _, w := range r.Warnings {
				out.Warn("%s", w.Message)
			}
		}
		out.Emit(reliabilityTable("study1_reliability", reports), alphaIfDroppedTable("study1_alpha_if_dropped", reports[TotalScale]))
		return nil
	})
	if err != nil {
		return err
	}

	res.Items = items.Freeze()
	s.logger.Info("final item set %s (hash %s)", res.Items, res.Items.Hash())
	return nil
}

// TotalScale names the composite over every retained item
const TotalScale = "total"

// computeReliability reports reliability for the total scale and, when there
// are several subscales, for each one with at least three items
func computeReliability(ctx context.Context, est *reliability.Estimator, ds *dataset.Dataset, items []string, subscales map[string][]string, groups int) (map[string]psychometrics.ReliabilityReport, error) {
	reports := make(map[string]psychometrics.ReliabilityReport)
	total, err := est.Compute(ctx, ds, items, groups)
	if err != nil {
		return nil, fmt.Errorf("total scale: %w", err)
	}
	reports[TotalScale] = total
	if len(subscales) < 2 {
		return reports, nil
	}
	for _, name := range sortedKeys(subscales) {
		sub := subscales[name]
		if len(sub) < 3 {
			continue
		}
		r, err := est.Compute(ctx, ds, sub, 1)
		if err != nil {
			return nil, fmt.Errorf("subscale %s: %w", name, err)
		}
		reports[name] = r
	}
	return reports, nil
}

func groupFactors(cfg *config.Config, k int) int {
	if cfg.Reliability.GroupFactors > 0 {
		return cfg.Reliability.GroupFactors
	}
	return k
}

func reliabilityDecision(reports map[string]psychometrics.ReliabilityReport) stage.Decision {
	total := reports[TotalScale]
	return stage.Decision{
		Stage:        stage.StageReliability,
		Rule:         "report alpha and omega for the retained items",
		Metric:       "omega_hierarchical",
		Threshold:    0,
		ItemsMatched: total.Items,
		Outcome: fmt.Sprintf("alpha %.3f, omega_h %.3f, omega_t %.3f over %d items",
			total.Alpha, total.OmegaHierarchical, total.OmegaTotal, len(total.Items)),
	}
}

// Subscales assigns each item of a fitted model to its primary factor, keyed
// by the lower-cased factor label
func Subscales(m psychometrics.FactorModel) map[string][]string {
	out := make(map[string][]string)
	for _, item := range m.Items {
		f, ok := m.PrimaryFactor(item)
		if !ok {
			continue
		}
		name := factorName(m, f)
		out[name] = append(out[name], item)
	}
	for name := range out {
		sort.Strings(out[name])
	}
	return out
}

func factorName(m psychometrics.FactorModel, f int) string {
	if f < len(m.Factors) && m.Factors[f] != "" {
		return strings.ToLower(m.Factors[f])
	}
	return fmt.Sprintf("f%d", f+1)
}
