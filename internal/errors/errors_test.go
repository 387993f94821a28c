package errors

import (
	"fmt"
	"testing"

	"arvis/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestWrap_ClassifiesDomainSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{"schema", core.NewSchemaError("arvis_wide", "attention_check"), CodeSchemaError, 3},
		{"assumption", core.NewAssumptionViolation("bartlett", "p=0.4"), CodeAssumptionViolation, 4},
		{"convergence", core.NewConvergenceError("efa_2f", []string{"a", "b"}, 500, nil), CodeConvergenceError, 5},
		{"not nested", core.NewNotNestedError("a", "b", "different items"), CodeNotNested, 5},
		{"plain", fmt.Errorf("boom"), CodeInternalError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(tt.err, "stage failed")
			assert.Equal(t, tt.code, GetCode(wrapped))
			assert.Equal(t, tt.exit, ExitCode(wrapped))
			assert.ErrorIs(t, wrapped, tt.err)
		})
	}
}

func TestWrap_KeepsInnerCode(t *testing.T) {
	inner := ConfigInvalid("seed must be set")
	outer := Wrapf(inner, "loading %s", "config.yaml")
	assert.Equal(t, CodeConfigInvalid, GetCode(outer))
	assert.Contains(t, outer.Error(), "seed must be set")
	assert.Nil(t, Wrap(nil, "nothing"))
}
