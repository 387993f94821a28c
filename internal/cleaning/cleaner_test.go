package cleaning

import (
	"context"
	"math"
	"testing"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCleaner(reader *testkit.MemoryReader) *Cleaner {
	return NewCleaner(reader, internal.NewLogger(internal.LogLevelError))
}

func TestAttentionCheckScenario(t *testing.T) {
	config := testkit.DefaultSurveyConfig()
	config.Subjects = 242
	config.AttentionColumn = "attention_check"
	config.AttentionFailures = 6
	raw, err := testkit.NewSurveyGenerator(config).Generate()
	require.NoError(t, err)

	out, report, err := newCleaner(testkit.NewMemoryReader()).ApplyAttentionCheck(raw, "attention_check", 0)
	require.NoError(t, err)

	assert.Equal(t, 236, out.Rows())
	assert.Equal(t, 6, report.Removed())
	assert.Len(t, report.RemovedIDs, 6)
	assert.False(t, out.HasColumn("attention_check"))
	assert.Equal(t, 242, raw.Rows(), "input is not mutated")

	d := report.Decision(stage.StageAttentionCheck, "attention_check == 0", 0)
	assert.Equal(t, stage.StageAttentionCheck, d.Stage)
	assert.Contains(t, d.Outcome, "6 of 242")
}

func TestAttentionCheckMissingColumn(t *testing.T) {
	ds, err := dataset.New("arvis_wide", "id", []string{"a"}, []string{"arvis_1"}, [][]float64{{1}})
	require.NoError(t, err)

	_, _, err = newCleaner(testkit.NewMemoryReader()).ApplyAttentionCheck(ds, "attention_check", 0)
	assert.True(t, core.IsSchemaError(err))
}

func TestAttentionCheckMissingResponseFails(t *testing.T) {
	ds, err := dataset.New("arvis_wide", "id", []string{"a", "b"}, []string{"arvis_1", "attention_check"},
		[][]float64{{1, 0}, {2, math.NaN()}})
	require.NoError(t, err)

	out, report, err := newCleaner(testkit.NewMemoryReader()).ApplyAttentionCheck(ds, "attention_check", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, out.SubjectIDs)
	assert.Equal(t, []string{"b"}, report.RemovedIDs)
}

func TestDropIncomplete(t *testing.T) {
	ds, err := dataset.New("arvis_wide", "id", []string{"a", "b", "c"}, []string{"arvis_1", "arvis_2", "note"},
		[][]float64{{1, 2, math.NaN()}, {math.NaN(), 2, 1}, {3, 4, 5}})
	require.NoError(t, err)
	c := newCleaner(testkit.NewMemoryReader())

	out, report, err := c.DropIncomplete(ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, out.SubjectIDs)
	assert.Equal(t, 2, report.Removed())

	out, _, err = c.DropIncomplete(ds, "arvis_1", "arvis_2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, out.SubjectIDs)

	_, _, err = c.DropIncomplete(ds, "arvis_9")
	assert.True(t, core.IsSchemaError(err))
}

func TestLoadWrapsReaderErrors(t *testing.T) {
	reader := testkit.NewMemoryReader()
	ds, err := dataset.New("x", "id", []string{"a"}, []string{"arvis_1"}, [][]float64{{1}})
	require.NoError(t, err)
	reader.Put("data/arvis_wide.csv", ds)
	c := newCleaner(reader)

	loaded, err := c.Load(context.Background(), "data/arvis_wide.csv", "arvis_wide", "id")
	require.NoError(t, err)
	assert.Equal(t, "arvis_wide", loaded.Name)

	_, err = c.Load(context.Background(), "data/arvis_wide.csv", "arvis_wide", "subject")
	assert.True(t, core.IsSchemaError(err))
}

func TestJoinByID(t *testing.T) {
	left, err := dataset.New("arvis_wide_sample2", "id", []string{"a", "b", "c"}, []string{"arvis_1"}, [][]float64{{1}, {2}, {3}})
	require.NoError(t, err)
	right, err := dataset.New("arvis_other_measures", "id", []string{"c", "a", "z"}, []string{"anxiety"}, [][]float64{{30}, {10}, {99}})
	require.NoError(t, err)

	out, report, err := JoinByID(left, right)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, out.SubjectIDs)
	assert.Equal(t, [][]float64{{1, 10}, {3, 30}}, out.Values)
	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 1, report.UnmatchedLeft)
	assert.Equal(t, 1, report.UnmatchedRight)

	_, _, err = JoinByID(left, left)
	assert.True(t, core.IsSchemaError(err))
}
