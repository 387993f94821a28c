package app

import (
	"context"
	"fmt"
	"time"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/run"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/config"
	"arvis/ports"

	"gopkg.in/yaml.v3"
)

// Artifact keys written at the end of a run
const (
	ManifestKey     = "run_manifest.yaml"
	ReportKey       = "report.md"
	ReportHTMLKey   = "report.html"
	defaultRunTitle = "ARVIS scale development"
)

// PipelineDeps are the adapters a full run needs
type PipelineDeps struct {
	Reader    ports.DatasetReader
	Writer    ports.TableWriter
	Artifacts ports.ArtifactStore
	RNG       ports.RNGPort
	EFA       ports.FactorEstimator
	SEM       ports.SEMEstimator
	Renderer  ports.ReportRenderer
}

// PipelineOutcome is the result of a full run
type PipelineOutcome struct {
	RunID        core.RunID
	Development  *DevelopmentResult
	Confirmation *ConfirmationResult
	Retest       *RetestResult
	Stages       *stage.PipelineResult
	Manifest     *run.RunManifest
	RuntimeMs    int64
}

// FinalItems is the item set the run ends with: the confirmed set when Study 2
// ran, otherwise the Study 1 set
func (o *PipelineOutcome) FinalItems() dataset.ItemSet {
	if o.Confirmation != nil {
		return o.Confirmation.Items
	}
	if o.Development != nil {
		return o.Development.Items
	}
	return dataset.ItemSet{}
}

// PipelineService runs the three studies in order and records the run
type PipelineService struct {
	cfg          *config.Config
	deps         PipelineDeps
	runner       *StageRunner
	development  *DevelopmentService
	confirmation *ConfirmationService
	retest       *RetestService
	codeVersion  string
	logger       *internal.Logger
}

// NewPipelineService wires the study services over one stage runner
func NewPipelineService(cfg *config.Config, deps PipelineDeps, codeVersion string, logger *internal.Logger) *PipelineService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	runner := NewStageRunner(deps.Writer, deps.RNG, logger)
	return &PipelineService{
		cfg:          cfg,
		deps:         deps,
		runner:       runner,
		development:  NewDevelopmentService(cfg, runner, deps.Reader, deps.EFA, logger),
		confirmation: NewConfirmationService(cfg, runner, deps.Reader, deps.EFA, deps.SEM, logger),
		retest:       NewRetestService(cfg, runner, deps.Reader, logger),
		codeVersion:  codeVersion,
		logger:       logger.Scoped("pipeline"),
	}
}

// Development exposes the Study 1 service for single-stage commands
func (s *PipelineService) Development() *DevelopmentService { return s.development }

// Confirmation exposes the Study 2 service
func (s *PipelineService) Confirmation() *ConfirmationService { return s.confirmation }

// Runner exposes the shared stage runner
func (s *PipelineService) Runner() *StageRunner { return s.runner }

// Run executes Study 1, then Study 2 and Study 3 when their inputs are
// configured, and writes the ledger, manifest and report. A failing stage
// still leaves its ledger behind.
func (s *PipelineService) Run(ctx context.Context) (*PipelineOutcome, error) {
	start := time.Now()
	out := &PipelineOutcome{RunID: core.NewRunID(), Stages: s.runner.Result()}
	s.logger.Info("run %s started (seed %d, config %s)", out.RunID, s.cfg.Seed, s.cfg.Hash().Short())

	err := s.runStudies(ctx, out)
	out.RuntimeMs = time.Since(start).Milliseconds()
	if ferr := s.Finish(ctx, out); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return out, err
	}
	s.logger.Info("run %s finished in %dms: %d stages, final items %s", out.RunID, out.RuntimeMs,
		out.Stages.Overall.TotalStages, out.FinalItems())
	return out, nil
}

func (s *PipelineService) runStudies(ctx context.Context, out *PipelineOutcome) error {
	dev, err := s.development.Run(ctx)
	out.Development = dev
	if err != nil {
		return err
	}
	items, subscales := dev.Items, dev.Subscales

	if s.cfg.Inputs.Study2 != "" {
		conf, err := s.confirmation.Run(ctx, dev.Items, dev.Subscales)
		out.Confirmation = conf
		if err != nil {
			return err
		}
		items, subscales = conf.Items, subscalesOf(conf.Selection.Chosen)
	} else {
		s.logger.Warn("no study 2 input configured; skipping confirmation")
	}

	if s.cfg.Inputs.Retest != "" {
		rt, err := s.retest.Run(ctx, dev.Cleaned, items, subscales)
		out.Retest = rt
		if err != nil {
			return err
		}
	} else {
		s.logger.Warn("no retest input configured; skipping study 3")
	}
	return out.Stages.Validate()
}

// Retest exposes the Study 3 service
func (s *PipelineService) Retest() *RetestService { return s.retest }

// Flush writes the decision ledger and stage tables and closes the writer
func (s *PipelineService) Flush(ctx context.Context) error {
	if err := s.runner.WriteLedger(ctx); err != nil {
		return err
	}
	if err := s.deps.Writer.WriteTable(ctx, stageTable(s.runner.Result())); err != nil {
		return err
	}
	return s.deps.Writer.Close()
}

// Finish flushes the tables and, when the run produced a final item set,
// saves the manifest and report
func (s *PipelineService) Finish(ctx context.Context, out *PipelineOutcome) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if out.FinalItems().Len() == 0 || s.deps.Artifacts == nil {
		return nil
	}

	out.Manifest = run.NewRunManifest(out.RunID, s.fingerprint(out), out.FinalItems().Freeze(), out.Stages)
	if err := out.Manifest.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(out.Manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	loc, err := s.deps.Artifacts.SaveArtifact(ctx, ManifestKey, b)
	if err != nil {
		return err
	}
	s.logger.Info("manifest written to %s (fingerprint %s)", loc, out.Manifest.Fingerprint.Fingerprint.Short())

	if !s.cfg.Output.Report {
		return nil
	}
	md := BuildReport(defaultRunTitle, out)
	if _, err := s.deps.Artifacts.SaveArtifact(ctx, ReportKey, md); err != nil {
		return err
	}
	if s.deps.Renderer == nil {
		return nil
	}
	page, err := s.deps.Renderer.Render(ctx, defaultRunTitle, md)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	loc, err = s.deps.Artifacts.SaveArtifact(ctx, ReportHTMLKey, page)
	if err != nil {
		return err
	}
	s.logger.Info("report written to %s", loc)
	return nil
}

// fingerprint hashes the configuration, the seed and the cleaned inputs
func (s *PipelineService) fingerprint(out *PipelineOutcome) run.RunFingerprint {
	inputs := make(map[string]core.Hash)
	if out.Development != nil && out.Development.Cleaned != nil {
		inputs["study1"] = out.Development.Cleaned.Hash()
	}
	if out.Confirmation != nil && out.Confirmation.Cleaned != nil {
		inputs["study2"] = out.Confirmation.Cleaned.Hash()
	}
	return run.NewRunFingerprint(s.cfg.Hash(), inputs, s.cfg.Seed, s.codeVersion)
}
