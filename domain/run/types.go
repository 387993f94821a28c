package run

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"arvis/domain/core"
)

// RunFingerprint ensures deterministic replay: identical inputs, configuration
// and seed must reach identical decisions
type RunFingerprint struct {
	ConfigHash  core.Hash            `json:"config_hash" yaml:"config_hash"`
	InputHashes map[string]core.Hash `json:"input_hashes" yaml:"input_hashes"`
	Seed        int64                `json:"seed" yaml:"seed"`
	CodeVersion string               `json:"code_version" yaml:"code_version"`
	Fingerprint core.Hash            `json:"fingerprint" yaml:"fingerprint"`
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(configHash core.Hash, inputHashes map[string]core.Hash, seed int64, codeVersion string) RunFingerprint {
	inputs := make(map[string]core.Hash, len(inputHashes))
	for k, v := range inputHashes {
		inputs[k] = v
	}
	return RunFingerprint{
		ConfigHash:  configHash,
		InputHashes: inputs,
		Seed:        seed,
		CodeVersion: codeVersion,
		Fingerprint: computeRunFingerprint(configHash, inputs, seed, codeVersion),
	}
}

// computeRunFingerprint generates deterministic hash from all determinism parameters
func computeRunFingerprint(configHash core.Hash, inputHashes map[string]core.Hash, seed int64, codeVersion string) core.Hash {
	keys := make([]string, 0, len(inputHashes))
	for k := range inputHashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var inputs strings.Builder
	for _, k := range keys {
		inputs.WriteString(k)
		inputs.WriteString("=")
		inputs.WriteString(inputHashes[k].String())
		inputs.WriteString(",")
	}

	data := fmt.Sprintf("config:%s|inputs:%s|seed:%d|code:%s", configHash, inputs.String(), seed, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}
