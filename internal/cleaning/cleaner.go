// Package cleaning loads survey exports and applies the row-level exclusion
// rules: complete cases, attention checks and joins on subject ID.
package cleaning

import (
	"context"
	"fmt"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/domain/stage"
	"arvis/internal"
	"arvis/internal/errors"
	"arvis/ports"
)

// CleaningReport records what one cleaning step removed
type CleaningReport struct {
	Dataset    string   `json:"dataset"`
	Step       string   `json:"step"`
	RowsBefore int      `json:"rows_before"`
	RowsAfter  int      `json:"rows_after"`
	RemovedIDs []string `json:"removed_ids,omitempty"`
}

// Removed returns the number of excluded rows
func (r CleaningReport) Removed() int {
	return r.RowsBefore - r.RowsAfter
}

// Decision renders the report as a ledger entry
func (r CleaningReport) Decision(name stage.StageName, rule string, threshold float64) stage.Decision {
	return stage.Decision{
		Stage:        name,
		Rule:         rule,
		Metric:       "rows_removed",
		Threshold:    threshold,
		ItemsMatched: r.RemovedIDs,
		Outcome:      fmt.Sprintf("%s: %d of %d rows removed, %d remain", r.Dataset, r.Removed(), r.RowsBefore, r.RowsAfter),
	}
}

// JoinReport records an inner join on subject ID
type JoinReport struct {
	Left           string `json:"left"`
	Right          string `json:"right"`
	LeftRows       int    `json:"left_rows"`
	RightRows      int    `json:"right_rows"`
	Matched        int    `json:"matched"`
	UnmatchedLeft  int    `json:"unmatched_left"`
	UnmatchedRight int    `json:"unmatched_right"`
}

// Cleaner applies the exclusion rules to datasets loaded through a reader
type Cleaner struct {
	reader ports.DatasetReader
	logger *internal.Logger
}

// NewCleaner creates a cleaner over the given reader
func NewCleaner(reader ports.DatasetReader, logger *internal.Logger) *Cleaner {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Cleaner{reader: reader, logger: logger.Scoped("cleaning")}
}

// Load reads a dataset and requires the ID column
func (c *Cleaner) Load(ctx context.Context, path, name, idColumn string) (*dataset.Dataset, error) {
	ds, err := c.reader.Read(ctx, path, name, idColumn)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", name)
	}
	c.logger.Info("loaded %s: %d rows, %d columns", name, ds.Rows(), len(ds.Columns))
	return ds, nil
}

// RequireColumns fails with a schema error when any named column is absent
func RequireColumns(ds *dataset.Dataset, cols ...string) error {
	return ds.RequireColumns(cols...)
}

// DropIncomplete keeps rows with no missing value in the given columns, or in
// every column when none are named
func (c *Cleaner) DropIncomplete(ds *dataset.Dataset, columns ...string) (*dataset.Dataset, CleaningReport, error) {
	if len(columns) == 0 {
		columns = ds.Columns
	}
	idx := make([]int, len(columns))
	for i, col := range columns {
		j, ok := ds.ColumnIndex(col)
		if !ok {
			return nil, CleaningReport{}, core.NewSchemaError(ds.Name, col)
		}
		idx[i] = j
	}

	report := CleaningReport{Dataset: ds.Name, Step: "drop_incomplete", RowsBefore: ds.Rows()}
	var keep []int
	for r, row := range ds.Values {
		complete := true
		for _, j := range idx {
			if dataset.Missing(row[j]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, r)
		} else {
			report.RemovedIDs = append(report.RemovedIDs, ds.SubjectIDs[r])
		}
	}
	out := ds.SelectRows(keep)
	report.RowsAfter = out.Rows()
	c.logger.Info("%s: dropped %d incomplete rows", ds.Name, report.Removed())
	return out, report, nil
}

// ApplyAttentionCheck keeps rows whose check column equals the required value
// and drops the check column. Missing responses fail the check.
func (c *Cleaner) ApplyAttentionCheck(ds *dataset.Dataset, column string, required float64) (*dataset.Dataset, CleaningReport, error) {
	j, ok := ds.ColumnIndex(column)
	if !ok {
		return nil, CleaningReport{}, core.NewSchemaError(ds.Name, column)
	}

	report := CleaningReport{Dataset: ds.Name, Step: "attention_check", RowsBefore: ds.Rows()}
	var keep []int
	for r, row := range ds.Values {
		if !dataset.Missing(row[j]) && row[j] == required {
			keep = append(keep, r)
		} else {
			report.RemovedIDs = append(report.RemovedIDs, ds.SubjectIDs[r])
		}
	}
	out, err := ds.SelectRows(keep).DropColumn(column)
	if err != nil {
		return nil, CleaningReport{}, err
	}
	report.RowsAfter = out.Rows()
	c.logger.Info("%s: attention check on %s removed %d of %d rows", ds.Name, column, report.Removed(), report.RowsBefore)
	return out, report, nil
}

// JoinByID inner-joins two datasets on subject ID, keeping left row order.
// Shared non-ID columns are a schema error; duplicate IDs match their first row.
func JoinByID(left, right *dataset.Dataset) (*dataset.Dataset, JoinReport, error) {
	for _, col := range right.Columns {
		if left.HasColumn(col) {
			return nil, JoinReport{}, fmt.Errorf("%w: %s and %s both carry column %s", core.ErrSchema, left.Name, right.Name, col)
		}
	}

	report := JoinReport{Left: left.Name, Right: right.Name, LeftRows: left.Rows(), RightRows: right.Rows()}
	rightIdx := right.RowIndex()
	matchedRight := make(map[string]bool)

	columns := append(append([]string(nil), left.Columns...), right.Columns...)
	var ids []string
	var values [][]float64
	for r, id := range left.SubjectIDs {
		rr, ok := rightIdx[id]
		if !ok {
			report.UnmatchedLeft++
			continue
		}
		matchedRight[id] = true
		row := append(append([]float64(nil), left.Values[r]...), right.Values[rr]...)
		ids = append(ids, id)
		values = append(values, row)
	}
	report.Matched = len(ids)
	for id := range rightIdx {
		if !matchedRight[id] {
			report.UnmatchedRight++
		}
	}

	out, err := dataset.New(left.Name, left.IDColumn, ids, columns, values)
	if err != nil {
		return nil, JoinReport{}, err
	}
	return out, report, nil
}
