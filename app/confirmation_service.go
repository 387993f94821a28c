package app

import (
	"context"
	"fmt"
	"strings"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/cleaning"
	"arvis/internal/config"
	"arvis/internal/confirmatory"
	"arvis/internal/reliability"
	"arvis/internal/validity"
	"arvis/ports"
)

// ConfirmationResult is everything Study 2 decided
type ConfirmationResult struct {
	Cleaned          *dataset.Dataset
	Items            dataset.ItemSet
	Specification    psychometrics.CFASpecification
	Modifications    []psychometrics.ModificationIndex
	Respecification  *confirmatory.Respecification
	Candidates       []psychometrics.FactorModel
	Ranking          []confirmatory.RankedModel
	LikelihoodRatios []confirmatory.LRTResult
	Selection        confirmatory.ModelSelection
	Reliability      map[string]psychometrics.ReliabilityReport
	Scores           []psychometrics.CompositeScore
	Correlations     []psychometrics.CorrelationResult
	Comparisons      []psychometrics.ValidityComparison
	Join             *cleaning.JoinReport
	LRTAlpha         float64
	ValidityAlpha    float64
}

// ConfirmationService runs Study 2: confirmatory model comparison on a new
// sample and validity against external measures
type ConfirmationService struct {
	cfg         *config.Config
	runner      *StageRunner
	cleaner     *cleaning.Cleaner
	comparator  *confirmatory.Comparator
	reliability *reliability.Estimator
	validity    *validity.Analyzer
	logger      *internal.Logger
}

// NewConfirmationService creates the Study 2 service
func NewConfirmationService(cfg *config.Config, runner *StageRunner, reader ports.DatasetReader, efa ports.FactorEstimator, sem ports.SEMEstimator, logger *internal.Logger) *ConfirmationService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &ConfirmationService{
		cfg:         cfg,
		runner:      runner,
		cleaner:     cleaning.NewCleaner(reader, logger),
		comparator:  confirmatory.NewComparator(sem, cfg.Confirmatory.MaxIterations, logger),
		reliability: reliability.NewEstimator(efa, cfg.Factor.MaxIterations, logger),
		validity:    validity.NewAnalyzer(cfg.Validity.Ordinal, logger),
		logger:      logger.Scoped("study2"),
	}
}

func (s *ConfirmationService) thresholds() confirmatory.Thresholds {
	c := s.cfg.Confirmatory
	return confirmatory.Thresholds{
		RMSEAAcceptable:  c.RMSEAAcceptable,
		RMSEAExcellent:   c.RMSEAExcellent,
		CFIAcceptable:    c.CFIAcceptable,
		CFIExcellent:     c.CFIExcellent,
		SRMRAcceptable:   c.SRMRAcceptable,
		SRMRExcellent:    c.SRMRExcellent,
		RedundantFactorR: c.RedundantFactorR,
	}
}

// Run confirms the Study 1 structure. items must be the frozen Study 1 item
// set and subscales its item-to-factor assignment.
func (s *ConfirmationService) Run(ctx context.Context, items dataset.ItemSet, subscales map[string][]string) (*ConfirmationResult, error) {
	if !items.Frozen() {
		return nil, fmt.Errorf("study 2 needs the final study 1 item set, got an open one (%s)", items)
	}
	ds, err := s.Clean(ctx, items)
	if err != nil {
		return nil, err
	}
	res, err := s.Compare(ctx, ds, items, subscales)
	if err != nil {
		return res, err
	}
	if err := s.Validate(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// Clean loads Study 2 and keeps complete, attentive responses to the items
func (s *ConfirmationService) Clean(ctx context.Context, items dataset.ItemSet) (*dataset.Dataset, error) {
	const study = stage.StudyConfirmation
	var ds *dataset.Dataset

	err := s.runner.Run(ctx, study, stage.StageLoad, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		var err error
		ds, err = s.cleaner.Load(ctx, s.cfg.Inputs.Study2, "arvis_wide_sample2", s.cfg.Inputs.IDColumn)
		if err != nil {
			return err
		}
		if err := cleaning.RequireColumns(ds, items.Items()...); err != nil {
			return err
		}
		out.Decide(stage.Decision{
			Rule:         "study 1 items present",
			Metric:       "items",
			Threshold:    float64(items.Len()),
			ItemsMatched: items.Items(),
			Outcome:      fmt.Sprintf("%d rows", ds.Rows()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if col := s.cfg.Cleaning.AttentionColumn; col != "" && ds.HasColumn(col) {
		err = s.runner.Run(ctx, study, stage.StageAttentionCheck, func(ctx context.Context, out *StageOutput) error {
			out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
			cleaned, report, err := s.cleaner.ApplyAttentionCheck(ds, col, s.cfg.Cleaning.AttentionValue)
			if err != nil {
				return err
			}
			ds = cleaned
			out.Decide(report.Decision(stage.StageAttentionCheck, fmt.Sprintf("%s == %g", col, s.cfg.Cleaning.AttentionValue), s.cfg.Cleaning.AttentionValue))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	err = s.runner.Run(ctx, study, stage.StageDropIncomplete, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		cleaned, report, err := s.cleaner.DropIncomplete(ds)
		if err != nil {
			return err
		}
		ds = cleaned
		out.Decide(report.Decision(stage.StageDropIncomplete, "every column answered", 0))
		out.Emit(datasetTable("study2_cleaned", ds))
		return nil
	})
	return ds, err
}

// Compare fits the Study 1 structure, applies at most one respecification,
// compares the candidate models and selects one
func (s *ConfirmationService) Compare(ctx context.Context, ds *dataset.Dataset, final dataset.ItemSet, subscales map[string][]string) (*ConfirmationResult, error) {
	const study = stage.StudyConfirmation
	items := final.Reopen()
	spec := SpecificationOf(subscales)
	res := &ConfirmationResult{
		Cleaned:       ds,
		Specification: spec,
		LRTAlpha:      s.cfg.Confirmatory.LRTAlpha,
		ValidityAlpha: s.cfg.Validity.Alpha,
	}
	var covariance *psychometrics.ItemPair

	err := s.runner.Run(ctx, study, stage.StageRespecification, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore = items.Len()
		out.ItemsAfter = items.Len()

		configured, err := confirmatory.PairFromNames(s.cfg.Confirmatory.ResidualCovariance, items)
		if err != nil {
			return err
		}
		model, err := s.comparator.Fit(ctx, spec, ds)
		if err != nil {
			return err
		}
		mis, err := s.comparator.ModificationIndices(ctx, model, ds, s.cfg.Confirmatory.MinModificationIndex)
		if err != nil {
			return err
		}
		res.Modifications = mis
		out.Emit(loadingsTable("study2_loadings_"+spec.Name, model), modificationTable("study2_modification_indices", mis))

		rule := fmt.Sprintf("MI >= %.1f", s.cfg.Confirmatory.MinModificationIndex)
		switch {
		case configured != nil:
			covariance = configured
			out.Decide(stage.Decision{
				Rule: "configured residual covariance", Metric: "mi", Threshold: s.cfg.Confirmatory.MinModificationIndex,
				ItemsMatched: []string{configured.A, configured.B},
				Outcome:      fmt.Sprintf("candidates include %s", configured),
			})
		case len(mis) == 0:
			out.Decide(stage.Decision{
				Rule: rule, Metric: "mi", Threshold: s.cfg.Confirmatory.MinModificationIndex,
				Outcome: fmt.Sprintf("%s needs no respecification", spec.ID()),
			})
		default:
			respec, err := s.comparator.RecommendRespecification(ctx, spec, ds, mis[0], s.cfg.Confirmatory.RespecTolerance)
			if err != nil {
				return err
			}
			res.Respecification = &respec
			out.Decide(respec.Decision())
			if respec.Chosen == confirmatory.FixRemoveItem {
				if items, err = items.Narrow(string(stage.StageRespecification), respec.Rationale, respec.Removal.Item); err != nil {
					return err
				}
				spec = respec.Specification().WithoutResidualCovariances(spec.Name)
			} else {
				pair := psychometrics.NewItemPair(mis[0].Left, mis[0].Right)
				covariance = &pair
			}
		}
		out.ItemsAfter = items.Len()
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Specification = spec

	err = s.runner.Run(ctx, study, stage.StageCFACompare, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		candidates := confirmatory.BuildCandidates(spec, covariance)
		if len(spec.Factors) == 1 {
			candidates = []psychometrics.CFASpecification{spec}
			if covariance != nil {
				candidates = append(candidates, spec.WithResidualCovariance(spec.Name+"_cov", *covariance))
			}
		}
		models, err := s.comparator.FitAll(ctx, candidates, ds)
		if err != nil {
			return err
		}
		res.Candidates = models
		res.Ranking = confirmatory.CompareFitIndices(models, s.thresholds())
		labels := make([]string, len(res.Ranking))
		for i, r := range res.Ranking {
			labels[i] = fmt.Sprintf("%s (%s)", r.Label, r.Overall)
		}
		out.Decide(stage.Decision{
			Rule:      "rank by fit class, then BIC",
			Metric:    "bic",
			Threshold: 0,
			Outcome:   strings.Join(labels, " > "),
		})
		out.Emit(modelComparisonTable("study2_model_comparison", res.Ranking))
		return nil
	})
	if err != nil {
		return res, err
	}

	err = s.runner.Run(ctx, study, stage.StageLikelihoodRatio, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		for i := 0; i < len(res.Candidates); i++ {
			for j := i + 1; j < len(res.Candidates); j++ {
				lrt, err := s.comparator.LikelihoodRatioTest(res.Candidates[i], res.Candidates[j])
				if err != nil {
					if core.IsNotNestedError(err) {
						s.logger.Debug("%v", err)
						continue
					}
					return err
				}
				res.LikelihoodRatios = append(res.LikelihoodRatios, lrt)
				out.Decide(lrt.Decision(s.cfg.Confirmatory.LRTAlpha))
			}
		}
		out.Emit(lrtTable("study2_likelihood_ratio", res.LikelihoodRatios, s.cfg.Confirmatory.LRTAlpha))
		return nil
	})
	if err != nil {
		return res, err
	}

	err = s.runner.Run(ctx, study, stage.StageModelSelection, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		sel, err := confirmatory.SelectModel(res.Candidates, s.thresholds())
		if err != nil {
			return err
		}
		res.Selection = sel
		var rejected []string
		for _, label := range sortedKeys(sel.Rejected) {
			rejected = append(rejected, label+": "+sel.Rejected[label])
		}
		out.Decide(stage.Decision{
			Rule:      "least complex model with excellent fit and inter-factor r <= threshold",
			Metric:    "redundant_factor_r",
			Threshold: s.cfg.Confirmatory.RedundantFactorR,
			Outcome:   fmt.Sprintf("chose %s (%s fit)", sel.Chosen.Label, sel.Class),
			Rationale: sel.Rationale + "; " + strings.Join(rejected, "; "),
		})
		for _, w := range sel.Chosen.Warnings {
			out.Warn("%s", w.Message)
		}
		out.Emit(loadingsTable("study2_loadings_selected", sel.Chosen))
		return nil
	})
	if err != nil {
		return res, err
	}

	err = s.runner.Run(ctx, study, stage.StageReliability, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		chosen := subscalesOf(res.Selection.Chosen)
		reports, err := computeReliability(ctx, s.reliability, ds, items.Items(), chosen, groupFactors(s.cfg, len(chosen)))
		if err != nil {
			return err
		}
		res.Reliability = reports
		out.Decide(reliabilityDecision(reports))
		out.Emit(reliabilityTable("study2_reliability", reports))
		return nil
	})
	res.Items = items.Freeze()
	return res, err
}

// Validate scores the selected model and, when external measures are
// configured, tests convergent against divergent correlations
func (s *ConfirmationService) Validate(ctx context.Context, res *ConfirmationResult) error {
	const study = stage.StudyConfirmation
	v := s.cfg.Validity

	return s.runner.Run(ctx, study, stage.StageValidity, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = res.Items.Len(), res.Items.Len()
		scored, scores, err := scoreScales(res.Cleaned, res.Items.Items(), subscalesOf(res.Selection.Chosen))
		if err != nil {
			return err
		}
		res.Scores = scores

		target := scoreName(TotalScale)
		variables := make([]string, 0, len(scores)+len(v.Convergent)+len(v.Divergent))
		for _, sc := range scores {
			variables = append(variables, sc.Name)
		}

		if s.cfg.Inputs.OtherMeasures != "" {
			other, err := s.cleaner.Load(ctx, s.cfg.Inputs.OtherMeasures, "arvis_other_measures", s.cfg.Inputs.IDColumn)
			if err != nil {
				return err
			}
			joined, join, err := cleaning.JoinByID(scored, other)
			if err != nil {
				return err
			}
			res.Join = &join
			scored = joined
			out.Decide(stage.Decision{
				Rule:      "inner join on subject ID",
				Metric:    "unmatched",
				Threshold: 0,
				Outcome: fmt.Sprintf("%d of %d scored subjects matched %s (%d unmatched external rows)",
					join.Matched, join.LeftRows, join.Right, join.UnmatchedRight),
			})
			variables = append(append(variables, v.Convergent...), v.Divergent...)
		} else {
			out.Warn("no external measures configured; only scale scores are reported")
		}

		results, err := s.validity.CorrelationMatrix(scored, variables, psychometrics.Pearson)
		if err != nil {
			return err
		}
		res.Correlations = results
		out.Emit(scoresTable("study2_validity_scores", scored, variables), correlationsTable("study2_correlations", results))

		if len(v.Convergent) == 0 || len(v.Divergent) == 0 || res.Join == nil {
			return nil
		}
		comps, err := s.validity.CompareConvergentDivergent(scored, target, v.Convergent, v.Divergent,
			psychometrics.Pearson, psychometrics.OverlapMethod(v.Method))
		if err != nil {
			return err
		}
		res.Comparisons = comps
		out.Decide(validity.ComparisonsDecision(comps, v.Alpha))
		out.Emit(comparisonsTable("study2_correlation_comparisons", comps, v.Alpha))
		return nil
	})
}

// SpecificationOf builds the confirmatory specification named after its
// factor count, e.g. "two_factor"
func SpecificationOf(subscales map[string][]string) psychometrics.CFASpecification {
	var factors []psychometrics.LatentFactor
	for _, name := range sortedKeys(subscales) {
		factors = append(factors, psychometrics.LatentFactor{Name: name, Indicators: subscales[name]})
	}
	return psychometrics.NewCFASpecification(countWord(len(factors))+"_factor", factors, nil)
}

func countWord(k int) string {
	words := []string{"zero", "one", "two", "three", "four", "five", "six"}
	if k < len(words) {
		return words[k]
	}
	return fmt.Sprintf("%d", k)
}

// subscalesOf reads the item-to-factor assignment of a confirmatory model
func subscalesOf(m psychometrics.FactorModel) map[string][]string {
	if m.Specification == nil {
		return Subscales(m)
	}
	out := make(map[string][]string)
	for _, f := range m.Specification.Factors {
		out[f.Name] = append([]string(nil), f.Indicators...)
	}
	return out
}

func scoreName(scale string) string {
	return "score_" + scale
}

// scoreScales appends the total score and, when there are several
// subscales, one score per subscale
func scoreScales(ds *dataset.Dataset, items []string, subscales map[string][]string) (*dataset.Dataset, []psychometrics.CompositeScore, error) {
	total, err := validity.CompositeScore(ds, items, scoreName(TotalScale))
	if err != nil {
		return nil, nil, err
	}
	scores := []psychometrics.CompositeScore{total}
	if len(subscales) > 1 {
		for _, name := range sortedKeys(subscales) {
			sc, err := validity.CompositeScore(ds, subscales[name], scoreName(name))
			if err != nil {
				return nil, nil, err
			}
			scores = append(scores, sc)
		}
	}
	scored, err := validity.WithScores(ds, scores...)
	if err != nil {
		return nil, nil, err
	}
	return scored, scores, nil
}

func scoresTable(name string, ds *dataset.Dataset, variables []string) ports.Table {
	selected, err := ds.SelectColumns(variables)
	if err != nil {
		return ports.Table{Name: name, Columns: []string{ds.IDColumn}}
	}
	return datasetTable(name, selected)
}
