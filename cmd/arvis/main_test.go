package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arvis/internal/config"
)

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		seed int64
		dir  string
	}{
		{"no flags keep the config", nil, config.Default().Seed, config.Default().Output.Dir},
		{"zero seed overrides", []string{"--seed", "0"}, 0, config.Default().Output.Dir},
		{"seed and output", []string{"--seed=7", "--output", "out/run2"}, 7, "out/run2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := &globalFlags{}
			root := newRootCmd(flags)
			require.NoError(t, root.ParseFlags(tt.args))

			cfg := config.Default()
			applyOverrides(cfg, root, flags)
			assert.Equal(t, tt.seed, cfg.Seed)
			assert.Equal(t, tt.dir, cfg.Output.Dir)
		})
	}
}
