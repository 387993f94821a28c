package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"arvis/domain/core"
	"arvis/domain/dataset"

	"github.com/xuri/excelize/v2"
)

// DataReader reads CSV and XLSX survey exports into datasets
type DataReader struct {
	config ReaderConfig
}

// NewDataReader creates a reader with the given cell conventions
func NewDataReader(config ReaderConfig) *DataReader {
	return &DataReader{config: config}
}

// Read loads a table and coerces every non-ID cell to a number
func (r *DataReader) Read(ctx context.Context, path, name, idColumn string) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := r.ReadRaw(path)
	if err != nil {
		return nil, err
	}
	return r.Coerce(raw, name, idColumn)
}

// ReadRaw reads the header and string cells of a CSV or XLSX file
func (r *DataReader) ReadRaw(path string) (*RawTable, error) {
	fileType := fileTypeOf(path)
	log.Printf("[DataReader] Starting to read %s file: %s", fileType, path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(fileType), path)
	}

	var (
		rows [][]string
		err  error
	)
	start := time.Now()
	switch fileType {
	case "csv":
		rows, err = r.readCSV(path)
	case "xlsx":
		rows, err = r.readExcel(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[DataReader] %s read in %.2fms (%d rows)", path, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	if len(rows) < 1 {
		return nil, fmt.Errorf("%w: %s has no header row", core.ErrSchema, path)
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	table := &RawTable{Headers: headers}
	for _, row := range rows[1:] {
		cells := make([]string, len(headers))
		empty := true
		for j := range headers {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
			if cells[j] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		table.Rows = append(table.Rows, cells)
	}
	return table, nil
}

// Coerce converts a raw table into a numeric dataset keyed by the ID column
func (r *DataReader) Coerce(raw *RawTable, name, idColumn string) (*dataset.Dataset, error) {
	idIdx := -1
	for i, h := range raw.Headers {
		if h == idColumn {
			idIdx = i
			break
		}
	}
	if idIdx < 0 {
		return nil, core.NewSchemaError(name, idColumn)
	}

	columns := make([]string, 0, len(raw.Headers)-1)
	for i, h := range raw.Headers {
		if i != idIdx {
			columns = append(columns, h)
		}
	}

	ids := make([]string, len(raw.Rows))
	values := make([][]float64, len(raw.Rows))
	for i, row := range raw.Rows {
		ids[i] = row[idIdx]
		vals := make([]float64, 0, len(columns))
		for j, cell := range row {
			if j == idIdx {
				continue
			}
			if r.config.isMissing(cell) {
				vals = append(vals, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				// data rows start on line 2, after the header
				return nil, core.NewMalformedValueError(name, raw.Headers[j], i+2, cell)
			}
			vals = append(vals, v)
		}
		values[i] = vals
	}

	log.Printf("[DataReader] %s coerced (%d columns, %d rows)", name, len(columns), len(values))
	return dataset.New(name, idColumn, ids, columns, values)
}

func (r *DataReader) readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.config.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s has no sheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func (r *DataReader) readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

func fileTypeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".xlsx", ".xlsm":
		return "xlsx"
	default:
		return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
}
