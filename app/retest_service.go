package app

import (
	"context"
	"fmt"

	"arvis/domain/dataset"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/cleaning"
	"arvis/internal/config"
	"arvis/internal/retest"
	"arvis/internal/validity"
	"arvis/ports"
)

// RetestResult holds the stability of each scale score between waves
type RetestResult struct {
	Pairs   []dataset.RetestPair
	Reports map[string]retest.Report
}

// RetestService runs Study 3: the retest wave scored on the final items and
// compared with the first wave
type RetestService struct {
	cfg      *config.Config
	runner   *StageRunner
	cleaner  *cleaning.Cleaner
	analyzer *retest.Analyzer
	logger   *internal.Logger
}

// NewRetestService creates the Study 3 service
func NewRetestService(cfg *config.Config, runner *StageRunner, reader ports.DatasetReader, logger *internal.Logger) *RetestService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &RetestService{
		cfg:      cfg,
		runner:   runner,
		cleaner:  cleaning.NewCleaner(reader, logger),
		analyzer: retest.NewAnalyzer(logger),
		logger:   logger.Scoped("study3"),
	}
}

// Run scores both waves on the frozen item set and reports Pearson r and the
// agreement and consistency ICCs for the total and every subscale
func (s *RetestService) Run(ctx context.Context, first *dataset.Dataset, items dataset.ItemSet, subscales map[string][]string) (*RetestResult, error) {
	const study = stage.StudyRetest
	if !items.Frozen() {
		return nil, fmt.Errorf("study 3 needs the final item set, got an open one (%s)", items)
	}
	var second *dataset.Dataset

	err := s.runner.Run(ctx, study, stage.StageLoad, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		ds, err := s.cleaner.Load(ctx, s.cfg.Inputs.Retest, "arvis_wide_retest", s.cfg.Inputs.IDColumn)
		if err != nil {
			return err
		}
		if err := cleaning.RequireColumns(ds, items.Items()...); err != nil {
			return err
		}
		cleaned, report, err := s.cleaner.DropIncomplete(ds)
		if err != nil {
			return err
		}
		second = cleaned
		out.Decide(report.Decision(stage.StageDropIncomplete, "every column answered", 0))
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &RetestResult{Reports: make(map[string]retest.Report)}
	err = s.runner.Run(ctx, study, stage.StageRetest, func(ctx context.Context, out *StageOutput) error {
		out.ItemsBefore, out.ItemsAfter = items.Len(), items.Len()
		scales := map[string][]string{TotalScale: items.Items()}
		if len(subscales) > 1 {
			for name, sub := range subscales {
				scales[name] = sub
			}
		}
		for _, scale := range sortedKeys(scales) {
			t1, err := validity.CompositeScore(first, scales[scale], scoreName(scale))
			if err != nil {
				return fmt.Errorf("time 1 %s: %w", scale, err)
			}
			t2, err := validity.CompositeScore(second, scales[scale], scoreName(scale))
			if err != nil {
				return fmt.Errorf("time 2 %s: %w", scale, err)
			}
			pairs, join := s.analyzer.JoinByID(t1, t2)
			report, err := s.analyzer.AnalyzePairs(pairs, join, s.cfg.Retest.Confidence)
			if err != nil {
				return fmt.Errorf("%s: %w", scale, err)
			}
			res.Reports[scale] = report
			for _, icc := range report.ICC {
				if icc.Warning != "" {
					out.Warn("%s %s: %s", scale, icc.Label(), icc.Warning)
				}
			}

			d := report.Decision()
			d.Rule = scale + ": " + d.Rule
			out.Decide(d)
			out.Emit(retestTable("study3_retest_"+scale, report))
			if scale == TotalScale {
				res.Pairs = pairs
				out.Emit(retestPairsTable("study3_retest_pairs", pairs))
			}
		}
		return nil
	})
	return res, err
}
