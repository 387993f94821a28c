package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"arvis/internal/errors"
	"arvis/ports"

	"github.com/xuri/excelize/v2"
)

// NewTableWriter picks a writer for the configured output format
func NewTableWriter(dir, format string) (ports.TableWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.IOError("create output dir", err)
	}
	switch format {
	case "xlsx":
		return NewWorkbookWriter(filepath.Join(dir, "arvis_results.xlsx")), nil
	case "csv", "":
		return NewCSVWriter(dir), nil
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported output format %q", format))
	}
}

// CSVWriter writes one CSV file per table into a directory
type CSVWriter struct {
	dir string
}

// NewCSVWriter creates a writer rooted at dir
func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{dir: dir}
}

// WriteTable writes <dir>/<name>.csv
func (w *CSVWriter) WriteTable(ctx context.Context, table ports.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(w.dir, sanitize(table.Name)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return errors.IOError("create "+path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(table.Columns); err != nil {
		return errors.IOError("write "+path, err)
	}
	for _, row := range table.Rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = FormatCell(cell)
		}
		if err := cw.Write(record); err != nil {
			return errors.IOError("write "+path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.IOError("flush "+path, err)
	}
	return nil
}

// Close is a no-op; every table is flushed as it is written
func (w *CSVWriter) Close() error {
	return nil
}

// WorkbookWriter collects tables as sheets of one workbook saved on Close
type WorkbookWriter struct {
	mu     sync.Mutex
	path   string
	file   *excelize.File
	sheets int
}

// NewWorkbookWriter creates a writer that saves to path on Close
func NewWorkbookWriter(path string) *WorkbookWriter {
	return &WorkbookWriter{path: path, file: excelize.NewFile()}
}

// WriteTable adds the table as a new sheet
func (w *WorkbookWriter) WriteTable(ctx context.Context, table ports.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	sheet := sheetName(table.Name)
	if _, err := w.file.NewSheet(sheet); err != nil {
		return errors.IOError("add sheet "+sheet, err)
	}
	header := make([]interface{}, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}
	if err := w.file.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.IOError("write header of "+sheet, err)
	}
	for r, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return errors.IOError("address row of "+sheet, err)
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				values[i] = FormatCell(v)
				continue
			}
			values[i] = v
		}
		if err := w.file.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.IOError("write row of "+sheet, err)
		}
	}
	w.sheets++
	return nil
}

// Close drops the default sheet and saves the workbook
func (w *WorkbookWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.file.Close()

	if w.sheets > 0 {
		if err := w.file.DeleteSheet("Sheet1"); err != nil {
			return errors.IOError("drop default sheet", err)
		}
		w.file.SetActiveSheet(0)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return errors.IOError("save "+w.path, err)
	}
	return nil
}

// FormatCell renders a cell for text output; missing numbers become NA
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return "NA"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func sanitize(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	return r.Replace(name)
}

// Excel limits sheet names to 31 characters
func sheetName(name string) string {
	name = sanitize(name)
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
