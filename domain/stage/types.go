package stage

import (
	"encoding/json"
	"fmt"
	"sort"

	"arvis/domain/core"
)

// StageName represents a named stage in the pipeline
type StageName string

// Study identifies which sample a stage ran against
type Study string

const (
	StudyDevelopment  Study = "study1_development"
	StudyConfirmation Study = "study2_confirmation"
	StudyRetest       Study = "study3_retest"
)

// Predefined stage names, in pipeline order
const (
	StageLoad               StageName = "load"
	StageDropIncomplete     StageName = "drop_incomplete"
	StageAttentionCheck     StageName = "attention_check"
	StageDistributionScreen StageName = "distribution_screen"
	StageCorrelationScreen  StageName = "correlation_screen"
	StageSphericity         StageName = "sphericity"
	StageSamplingAdequacy   StageName = "sampling_adequacy"
	StageParallelAnalysis   StageName = "parallel_analysis"
	StageFactorCount        StageName = "factor_count"
	StageCrossLoadingPrune  StageName = "cross_loading_prune"
	StageTopLoading         StageName = "top_loading"
	StageReliability        StageName = "reliability"
	StageCFACompare         StageName = "cfa_compare"
	StageRespecification    StageName = "respecification"
	StageLikelihoodRatio    StageName = "likelihood_ratio"
	StageModelSelection     StageName = "model_selection"
	StageValidity           StageName = "validity"
	StageRetest             StageName = "retest"
)

// Decision is one traceable application of a rule: the metric, its threshold,
// the items it matched and what the pipeline did about it.
type Decision struct {
	Stage        StageName `json:"stage" yaml:"stage"`
	Rule         string    `json:"rule" yaml:"rule"`
	Metric       string    `json:"metric" yaml:"metric"`
	Threshold    float64   `json:"threshold" yaml:"threshold"`
	ItemsMatched []string  `json:"items_matched,omitempty" yaml:"items_matched,omitempty"`
	Outcome      string    `json:"outcome" yaml:"outcome"`
	Rationale    string    `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// StageResult represents the output of a stage execution
type StageResult struct {
	StageName   StageName  `json:"stage_name" yaml:"stage_name"`
	Study       Study      `json:"study" yaml:"study"`
	Success     bool       `json:"success" yaml:"success"`
	ItemsBefore int        `json:"items_before" yaml:"items_before"`
	ItemsAfter  int        `json:"items_after" yaml:"items_after"`
	Decisions   []Decision `json:"decisions,omitempty" yaml:"decisions,omitempty"`
	Warnings    []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	Duration    int64      `json:"duration_ms" yaml:"duration_ms"`
}

// PipelineResult collects stage results in execution order
type PipelineResult struct {
	Results []StageResult   `json:"results" yaml:"results"`
	Overall PipelineSummary `json:"overall" yaml:"overall"`
}

// PipelineSummary provides high-level pipeline statistics
type PipelineSummary struct {
	TotalStages   int   `json:"total_stages" yaml:"total_stages"`
	Successful    int   `json:"successful" yaml:"successful"`
	Failed        int   `json:"failed" yaml:"failed"`
	TotalDuration int64 `json:"total_duration_ms" yaml:"total_duration_ms"`
	Decisions     int   `json:"decisions" yaml:"decisions"`
}

// NewPipelineResult creates an empty pipeline result
func NewPipelineResult() *PipelineResult {
	return &PipelineResult{Results: make([]StageResult, 0)}
}

// AddResult adds a stage result and updates summary
func (r *PipelineResult) AddResult(result StageResult) {
	r.Results = append(r.Results, result)
	r.Overall.TotalStages++

	if result.Success {
		r.Overall.Successful++
	} else {
		r.Overall.Failed++
	}

	r.Overall.TotalDuration += result.Duration
	r.Overall.Decisions += len(result.Decisions)
}

// Merge appends another pipeline's results after this one's
func (r *PipelineResult) Merge(other *PipelineResult) {
	if other == nil {
		return
	}
	for _, res := range other.Results {
		r.AddResult(res)
	}
}

// Decisions flattens every recorded decision in execution order
func (r *PipelineResult) Decisions() []Decision {
	var out []Decision
	for _, res := range r.Results {
		out = append(out, res.Decisions...)
	}
	return out
}

// Find returns the last result recorded for a stage of a study
func (r *PipelineResult) Find(study Study, name StageName) (StageResult, bool) {
	for i := len(r.Results) - 1; i >= 0; i-- {
		if r.Results[i].Study == study && r.Results[i].StageName == name {
			return r.Results[i], true
		}
	}
	return StageResult{}, false
}

// Validate checks narrowing never added items
func (r *PipelineResult) Validate() error {
	for _, res := range r.Results {
		if res.ItemsAfter > res.ItemsBefore {
			return fmt.Errorf("stage %s of %s grew the item set from %d to %d", res.StageName, res.Study, res.ItemsBefore, res.ItemsAfter)
		}
	}
	return nil
}

// Hash computes a deterministic hash of every decision, ignoring timings
func (r *PipelineResult) Hash() core.Hash {
	decisions := r.Decisions()
	sorted := make([]Decision, len(decisions))
	copy(sorted, decisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Stage < sorted[j].Stage
	})

	data, _ := json.Marshal(sorted)
	return core.NewHash(data)
}
