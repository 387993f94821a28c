package ports

import (
	"context"

	"arvis/domain/dataset"
)

// DatasetReader loads a named response table. Cells that are empty, "NA",
// "NaN" or "." are missing; any other non-numeric cell outside the ID column
// is a schema error naming its column and row.
type DatasetReader interface {
	Read(ctx context.Context, path, name, idColumn string) (*dataset.Dataset, error)
}

// Table is one intermediate result table. Cells are strings, ints or floats.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]interface{}
}

// AddRow appends one row of cells
func (t *Table) AddRow(cells ...interface{}) {
	t.Rows = append(t.Rows, cells)
}

// TableWriter persists result tables. Writers that batch output (one workbook
// with a sheet per table) flush on Close.
type TableWriter interface {
	WriteTable(ctx context.Context, table Table) error
	Close() error
}
