package excel

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"arvis/domain/core"
	"arvis/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSVWithMissingTokens(t *testing.T) {
	path := writeFile(t, "wide.csv", "id,arvis_1,arvis_2,attention_check\ns1,1,NA,0\ns2,.,4,0\ns3,5,2,\n")

	ds, err := NewDataReader(DefaultReaderConfig()).Read(context.Background(), path, "arvis_wide", "id")
	require.NoError(t, err)

	assert.Equal(t, []string{"arvis_1", "arvis_2", "attention_check"}, ds.Columns)
	assert.Equal(t, []string{"s1", "s2", "s3"}, ds.SubjectIDs)
	assert.True(t, math.IsNaN(ds.Values[0][1]))
	assert.True(t, math.IsNaN(ds.Values[1][0]))
	assert.True(t, math.IsNaN(ds.Values[2][2]))
	assert.Equal(t, 5.0, ds.Values[2][0])
}

func TestReadMalformedCellIsSchemaError(t *testing.T) {
	path := writeFile(t, "wide.csv", "id,arvis_1\ns1,1\ns2,often\n")

	_, err := NewDataReader(DefaultReaderConfig()).Read(context.Background(), path, "arvis_wide", "id")
	require.Error(t, err)
	assert.True(t, core.IsSchemaError(err))
	assert.Contains(t, err.Error(), "arvis_1")
	assert.Contains(t, err.Error(), "row 3")
}

func TestReadMissingIDColumn(t *testing.T) {
	path := writeFile(t, "wide.csv", "subject,arvis_1\ns1,1\n")

	_, err := NewDataReader(DefaultReaderConfig()).Read(context.Background(), path, "arvis_wide", "id")
	assert.True(t, core.IsSchemaError(err))
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"id", "arvis_1", "arvis_2"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"s1", 3, 4}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"s2", 2}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	ds, err := NewDataReader(DefaultReaderConfig()).Read(context.Background(), path, "arvis_wide", "id")
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Rows())
	assert.Equal(t, 4.0, ds.Values[0][1])
	// trailing empty cells are padded as missing
	assert.True(t, math.IsNaN(ds.Values[1][1]))
}

func TestCSVWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTableWriter(dir, "csv")
	require.NoError(t, err)

	table := ports.Table{Name: "loadings", Columns: []string{"item", "F1"}}
	table.AddRow("arvis_1", 0.71)
	table.AddRow("arvis_2", math.NaN())
	require.NoError(t, w.WriteTable(context.Background(), table))
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(dir, "loadings.csv"))
	require.NoError(t, err)
	assert.Equal(t, "item,F1\narvis_1,0.71\narvis_2,NA\n", string(b))
}

func TestWorkbookWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTableWriter(dir, "xlsx")
	require.NoError(t, err)

	for _, name := range []string{"decision_ledger", "model_comparison"} {
		table := ports.Table{Name: name, Columns: []string{"a", "b"}}
		table.AddRow("x", 1.5)
		require.NoError(t, w.WriteTable(context.Background(), table))
	}
	require.NoError(t, w.Close())

	f, err := excelize.OpenFile(filepath.Join(dir, "arvis_results.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"decision_ledger", "model_comparison"}, f.GetSheetList())
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := NewTableWriter(t.TempDir(), "parquet")
	assert.Error(t, err)
}
