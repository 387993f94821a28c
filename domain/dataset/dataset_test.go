package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arvis/domain/core"
)

func TestItemSet_NarrowRecordsTrace(t *testing.T) {
	s := NewItemSet([]string{"arvis_3", "arvis_1", "arvis_2", "arvis_1", ""})
	assert.Equal(t, []string{"arvis_1", "arvis_2", "arvis_3"}, s.Items())

	n, err := s.Narrow("distribution_screen", "endpoint_proportion > 0.90", "arvis_3", "arvis_2")
	require.NoError(t, err)
	assert.Equal(t, []string{"arvis_1"}, n.Items())
	require.Len(t, n.Removals(), 2)
	assert.Equal(t, Removal{Item: "arvis_2", Stage: "distribution_screen", Reason: "endpoint_proportion > 0.90"}, n.Removals()[0])

	assert.Equal(t, 3, s.Len(), "narrowing leaves the receiver unchanged")
	assert.Empty(t, s.Removals())
}

func TestItemSet_UnknownItem(t *testing.T) {
	s := NewItemSet([]string{"arvis_1"})
	_, err := s.Narrow("correlation_screen", "r", "arvis_9")
	assert.ErrorIs(t, err, core.ErrUnknownItem)
	_, err = s.Retain("top_loading", "r", []string{"arvis_9"})
	assert.ErrorIs(t, err, core.ErrUnknownItem)
}

func TestItemSet_Retain(t *testing.T) {
	s := NewItemSet([]string{"arvis_1", "arvis_2", "arvis_3", "arvis_4"})
	r, err := s.Retain("top_loading", "top 2 per factor", []string{"arvis_4", "arvis_2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"arvis_2", "arvis_4"}, r.Items())
	assert.Len(t, r.Removals(), 2)
}

func TestItemSet_FreezeAndReopen(t *testing.T) {
	s, err := NewItemSet([]string{"arvis_1", "arvis_2", "arvis_3"}).Narrow("s", "r", "arvis_3")
	require.NoError(t, err)
	frozen := s.Freeze()
	assert.True(t, frozen.Frozen())

	_, err = frozen.Narrow("cfa", "r", "arvis_1")
	assert.ErrorIs(t, err, core.ErrItemSetFrozen)
	same, err := frozen.Narrow("cfa", "r")
	require.NoError(t, err, "removing nothing is allowed on a frozen set")
	assert.Equal(t, frozen.Items(), same.Items())

	open := frozen.Reopen()
	assert.False(t, open.Frozen())
	assert.True(t, frozen.Frozen())
	assert.Equal(t, frozen.Removals(), open.Removals())
	next, err := open.Narrow("respecification", "r", "arvis_1")
	require.NoError(t, err)
	assert.Len(t, next.Removals(), 2)
	assert.Equal(t, 2, frozen.Len())
}

func TestItemSet_HashIgnoresHistory(t *testing.T) {
	a := NewItemSet([]string{"arvis_1", "arvis_2"})
	b, err := NewItemSet([]string{"arvis_2", "arvis_1", "arvis_3"}).Narrow("s", "r", "arvis_3")
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, "arvis_1,arvis_2", b.String())
}

func TestItemSetFromColumns(t *testing.T) {
	ds := mustDataset(t)
	s, err := ItemSetFromColumns(ds, "arvis_")
	require.NoError(t, err)
	assert.Equal(t, []string{"arvis_1", "arvis_2"}, s.Items())

	_, err = ItemSetFromColumns(ds, "bfne_")
	assert.ErrorIs(t, err, core.ErrMissingColumn)
}

func mustDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := New("arvis_wide", "id", []string{"S1", "S2", "S3"}, []string{"arvis_1", "arvis_2", "age"}, [][]float64{
		{1, 2, 30},
		{3, math.NaN(), 41},
		{5, 4, 29},
	})
	require.NoError(t, err)
	return ds
}

func TestNew_RejectsBadShape(t *testing.T) {
	_, err := New("d", "id", []string{"S1"}, []string{"a", "a"}, [][]float64{{1, 2}})
	assert.ErrorIs(t, err, core.ErrSchema)
	_, err = New("d", "id", []string{"S1"}, []string{"a"}, [][]float64{{1, 2}})
	assert.ErrorIs(t, err, core.ErrSchema)
	_, err = New("d", "id", []string{"S1", "S2"}, []string{"a"}, [][]float64{{1}})
	assert.Error(t, err)
}

func TestDataset_MatrixAndCompleteMatrix(t *testing.T) {
	ds := mustDataset(t)
	m, err := ds.Matrix([]string{"arvis_1", "arvis_2"})
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.True(t, math.IsNaN(m.At(1, 1)))

	cm, err := ds.CompleteMatrix([]string{"arvis_1", "arvis_2"})
	require.NoError(t, err)
	r, _ = cm.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 5.0, cm.At(1, 0))

	_, err = ds.Matrix([]string{"arvis_9"})
	assert.Error(t, err)
}

func TestDataset_SelectAndDrop(t *testing.T) {
	ds := mustDataset(t)
	rows := ds.SelectRows([]int{2, 0})
	assert.Equal(t, []string{"S3", "S1"}, rows.SubjectIDs)

	dropped, err := ds.DropColumn("age")
	require.NoError(t, err)
	assert.Equal(t, []string{"arvis_1", "arvis_2"}, dropped.Columns)
	assert.False(t, dropped.HasColumn("age"))
	assert.True(t, ds.HasColumn("age"))

	_, err = ds.DropColumn("age2")
	assert.True(t, core.IsSchemaError(err))
}

func TestDataset_Hash(t *testing.T) {
	a, b := mustDataset(t), mustDataset(t)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Hash(), a.Renamed("other").Hash(), "the name is not part of the contents")

	b.Values[0][0] = 2
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), a.SelectRows([]int{0, 1}).Hash())
}
