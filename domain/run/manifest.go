package run

import (
	"fmt"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/stage"
)

// RunManifest is the record written at the end of a pipeline run. It carries
// everything needed to replay the run and check that it reached the same
// decisions.
type RunManifest struct {
	RunID        core.RunID        `yaml:"run_id"`
	Fingerprint  RunFingerprint    `yaml:"fingerprint"`
	FinalItems   []string          `yaml:"final_items"`
	ItemSetHash  core.Hash         `yaml:"item_set_hash"`
	Removals     []dataset.Removal `yaml:"removals"`
	DecisionHash core.Hash         `yaml:"decision_hash"`
	Stages       int               `yaml:"stages"`
	Failed       int               `yaml:"failed"`
	CreatedAt    core.Timestamp    `yaml:"created_at"`
}

// NewRunManifest creates a run manifest from a finished pipeline
func NewRunManifest(runID core.RunID, fingerprint RunFingerprint, final dataset.ItemSet, result *stage.PipelineResult) *RunManifest {
	m := &RunManifest{
		RunID:       runID,
		Fingerprint: fingerprint,
		FinalItems:  final.Items(),
		ItemSetHash: final.Hash(),
		Removals:    final.Removals(),
		CreatedAt:   core.Now(),
	}
	if result != nil {
		m.DecisionHash = result.Hash()
		m.Stages = result.Overall.TotalStages
		m.Failed = result.Overall.Failed
	}
	return m
}

// Validate checks if the manifest is complete
func (m *RunManifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return fmt.Errorf("run manifest: run_id cannot be empty")
	}
	if m.Fingerprint.Fingerprint.IsEmpty() {
		return fmt.Errorf("run manifest: fingerprint cannot be empty")
	}
	if m.Fingerprint.ConfigHash.IsEmpty() {
		return fmt.Errorf("run manifest: config_hash cannot be empty")
	}
	if len(m.FinalItems) == 0 {
		return fmt.Errorf("run manifest: final item set is empty")
	}
	return nil
}
