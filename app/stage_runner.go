package app

import (
	"context"
	"fmt"
	"time"

	"arvis/domain/stage"
	"arvis/internal"
	"arvis/ports"
)

// StageOutput is what one stage body hands back to the runner
type StageOutput struct {
	ItemsBefore int
	ItemsAfter  int
	Decisions   []stage.Decision
	Warnings    []string
	Tables      []ports.Table
}

// Decide appends ledger entries
func (o *StageOutput) Decide(decisions ...stage.Decision) {
	o.Decisions = append(o.Decisions, decisions...)
}

// Warn appends an advisory message
func (o *StageOutput) Warn(format string, args ...interface{}) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Emit queues a result table for the writer
func (o *StageOutput) Emit(tables ...ports.Table) {
	o.Tables = append(o.Tables, tables...)
}

// StageFunc is the body of one stage
type StageFunc func(ctx context.Context, out *StageOutput) error

// StageRunner handles execution of pipeline stages: it times each stage,
// writes its tables and records its decisions in the pipeline result
type StageRunner struct {
	writer ports.TableWriter
	rng    ports.RNGPort
	logger *internal.Logger
	result *stage.PipelineResult
}

// NewStageRunner creates a new stage runner
func NewStageRunner(writer ports.TableWriter, rng ports.RNGPort, logger *internal.Logger) *StageRunner {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &StageRunner{
		writer: writer,
		rng:    rng,
		logger: logger.Scoped("stage"),
		result: stage.NewPipelineResult(),
	}
}

// RNG returns the runner's seeded stream source
func (r *StageRunner) RNG() ports.RNGPort {
	return r.rng
}

// Result returns every stage recorded so far
func (r *StageRunner) Result() *stage.PipelineResult {
	return r.result
}

// Run executes one stage. A failing stage is still recorded, with its error,
// and the error is returned so the caller stops the study.
func (r *StageRunner) Run(ctx context.Context, study stage.Study, name stage.StageName, fn StageFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	out := &StageOutput{}
	err := fn(ctx, out)

	res := stage.StageResult{
		StageName:   name,
		Study:       study,
		Success:     err == nil,
		ItemsBefore: out.ItemsBefore,
		ItemsAfter:  out.ItemsAfter,
		Decisions:   out.Decisions,
		Warnings:    out.Warnings,
		Duration:    time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	for i := range res.Decisions {
		if res.Decisions[i].Stage == "" {
			res.Decisions[i].Stage = name
		}
	}
	r.result.AddResult(res)

	for _, d := range res.Decisions {
		r.logger.Info("%s/%s: %s", study, name, d.Outcome)
	}
	for _, w := range res.Warnings {
		r.logger.Warn("%s/%s: %s", study, name, w)
	}
	if err != nil {
		r.logger.Error("%s/%s failed: %v", study, name, err)
		return fmt.Errorf("%s %s: %w", study, name, err)
	}

	for _, t := range out.Tables {
		if werr := r.writer.WriteTable(ctx, t); werr != nil {
			return fmt.Errorf("write %s: %w", t.Name, werr)
		}
		r.logger.Trace("%s/%s: wrote %s (%d rows)", study, name, t.Name, len(t.Rows))
	}
	return nil
}

// WriteLedger writes every decision recorded so far as one table
func (r *StageRunner) WriteLedger(ctx context.Context) error {
	return r.writer.WriteTable(ctx, ledgerTable(r.result))
}
