package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"arvis/domain/core"

	"gonum.org/v1/gonum/mat"
)

// Dataset is a table of numeric survey responses: one row per subject, one
// column per named variable. Missing cells hold NaN.
// INVARIANTS:
// - len(SubjectIDs) == len(Values)
// - every row has len(Columns) values
// - column names are unique
type Dataset struct {
	Name       string      `json:"name"`
	IDColumn   string      `json:"id_column"`
	SubjectIDs []string    `json:"subject_ids"`
	Columns    []string    `json:"columns"`
	Values     [][]float64 `json:"-"`

	index map[string]int
}

// New validates shape and builds the column index
func New(name, idColumn string, subjectIDs, columns []string, values [][]float64) (*Dataset, error) {
	if len(subjectIDs) != len(values) {
		return nil, fmt.Errorf("%s: %d subject IDs for %d rows", name, len(subjectIDs), len(values))
	}
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("%w in %s: duplicate column %s", core.ErrSchema, name, c)
		}
		index[c] = i
	}
	for r, row := range values {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w in %s: row %d has %d values, want %d", core.ErrSchema, name, r, len(row), len(columns))
		}
	}
	return &Dataset{
		Name:       name,
		IDColumn:   idColumn,
		SubjectIDs: subjectIDs,
		Columns:    columns,
		Values:     values,
		index:      index,
	}, nil
}

// Missing reports whether a cell value is a missing marker
func Missing(v float64) bool {
	return math.IsNaN(v)
}

// Rows returns the number of subjects
func (d *Dataset) Rows() int {
	return len(d.Values)
}

// HasColumn reports whether the named column exists
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// ColumnIndex returns the position of a named column
func (d *Dataset) ColumnIndex(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// RequireColumns fails with a schema error naming every absent column
func (d *Dataset) RequireColumns(names ...string) error {
	var missing []string
	for _, n := range names {
		if !d.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return core.NewSchemaError(d.Name, missing...)
	}
	return nil
}

// Column copies one column out of the table
func (d *Dataset) Column(name string) ([]float64, error) {
	j, ok := d.index[name]
	if !ok {
		return nil, core.NewSchemaError(d.Name, name)
	}
	out := make([]float64, len(d.Values))
	for i, row := range d.Values {
		out[i] = row[j]
	}
	return out, nil
}

// Matrix returns the rows × items response matrix in the order given
func (d *Dataset) Matrix(items []string) (*mat.Dense, error) {
	if err := d.RequireColumns(items...); err != nil {
		return nil, err
	}
	if len(d.Values) == 0 || len(items) == 0 {
		return nil, core.NewInsufficientDataError("response matrix", len(d.Values)*len(items), 1)
	}
	m := mat.NewDense(len(d.Values), len(items), nil)
	for j, item := range items {
		c := d.index[item]
		for i, row := range d.Values {
			m.Set(i, j, row[c])
		}
	}
	return m, nil
}

// CompleteMatrix is Matrix restricted to rows where every item is observed
func (d *Dataset) CompleteMatrix(items []string) (*mat.Dense, error) {
	m, err := d.Matrix(items)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	var keep []float64
	n := 0
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		complete := true
		for _, v := range row {
			if Missing(v) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, row...)
			n++
		}
	}
	if n == 0 {
		return nil, core.NewInsufficientDataError("complete rows over "+fmt.Sprint(len(items))+" items", 0, 1)
	}
	return mat.NewDense(n, c, keep), nil
}

// SelectRows returns a new dataset containing only the given row positions
func (d *Dataset) SelectRows(rows []int) *Dataset {
	ids := make([]string, len(rows))
	values := make([][]float64, len(rows))
	for i, r := range rows {
		ids[i] = d.SubjectIDs[r]
		values[i] = append([]float64(nil), d.Values[r]...)
	}
	out, _ := New(d.Name, d.IDColumn, ids, append([]string(nil), d.Columns...), values)
	return out
}

// SelectColumns returns a new dataset restricted to the named columns
func (d *Dataset) SelectColumns(names []string) (*Dataset, error) {
	if err := d.RequireColumns(names...); err != nil {
		return nil, err
	}
	values := make([][]float64, len(d.Values))
	for i, row := range d.Values {
		values[i] = make([]float64, len(names))
		for j, n := range names {
			values[i][j] = row[d.index[n]]
		}
	}
	return New(d.Name, d.IDColumn, append([]string(nil), d.SubjectIDs...), append([]string(nil), names...), values)
}

// DropColumn returns a new dataset without the named column
func (d *Dataset) DropColumn(name string) (*Dataset, error) {
	if !d.HasColumn(name) {
		return nil, core.NewSchemaError(d.Name, name)
	}
	keep := make([]string, 0, len(d.Columns)-1)
	for _, c := range d.Columns {
		if c != name {
			keep = append(keep, c)
		}
	}
	return d.SelectColumns(keep)
}

// Renamed returns a shallow copy carrying a new name
func (d *Dataset) Renamed(name string) *Dataset {
	out, _ := New(name, d.IDColumn, d.SubjectIDs, d.Columns, d.Values)
	return out
}

// RowIndex maps subject IDs to row positions; duplicate IDs keep the first row
func (d *Dataset) RowIndex() map[string]int {
	idx := make(map[string]int, len(d.SubjectIDs))
	for i, id := range d.SubjectIDs {
		if _, seen := idx[id]; !seen {
			idx[id] = i
		}
	}
	return idx
}

// Hash fingerprints the table contents: column names, subject IDs and every
// cell in row order
func (d *Dataset) Hash() core.Hash {
	var b strings.Builder
	b.WriteString(strings.Join(d.Columns, "\x1f"))
	for r, row := range d.Values {
		b.WriteString("\n")
		b.WriteString(d.SubjectIDs[r])
		for _, v := range row {
			b.WriteString("\x1f")
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	return core.NewHash([]byte(b.String()))
}

// RetestPair holds one subject's scale score at both time points
type RetestPair struct {
	SubjectID string  `json:"subject_id"`
	Time1     float64 `json:"time1"`
	Time2     float64 `json:"time2"`
}
