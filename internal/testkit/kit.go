package testkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"arvis/domain/core"
	"arvis/domain/dataset"
	"arvis/ports"
)

// MemoryReader serves datasets registered under a path
type MemoryReader struct {
	mu       sync.Mutex
	datasets map[string]*dataset.Dataset
}

// NewMemoryReader creates an empty in-memory reader
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{datasets: make(map[string]*dataset.Dataset)}
}

// Put registers a dataset under a path
func (r *MemoryReader) Put(path string, ds *dataset.Dataset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets[path] = ds
}

// Read returns the registered dataset renamed to the requested name
func (r *MemoryReader) Read(ctx context.Context, path, name, idColumn string) (*dataset.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[path]
	if !ok {
		return nil, fmt.Errorf("no dataset at %s", path)
	}
	if ds.IDColumn != idColumn {
		return nil, core.NewSchemaError(name, idColumn)
	}
	return ds.Renamed(name), nil
}

// MemoryWriter keeps written tables for inspection
type MemoryWriter struct {
	mu     sync.Mutex
	tables map[string]ports.Table
	closed bool
}

// NewMemoryWriter creates an empty table sink
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{tables: make(map[string]ports.Table)}
}

// WriteTable stores a table by name, replacing any earlier one
func (w *MemoryWriter) WriteTable(ctx context.Context, table ports.Table) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tables[table.Name] = table
	return nil
}

// Close marks the writer closed
func (w *MemoryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Table returns a written table
func (w *MemoryWriter) Table(name string) (ports.Table, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[name]
	return t, ok
}

// Names lists written tables in sorted order
func (w *MemoryWriter) Names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tables))
	for n := range w.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Closed reports whether Close was called
func (w *MemoryWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// MemoryArtifacts keeps saved artifacts by key
type MemoryArtifacts struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryArtifacts creates an empty artifact store
func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{items: make(map[string][]byte)}
}

// SaveArtifact stores a copy of data under key
func (m *MemoryArtifacts) SaveArtifact(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

// Get returns a saved artifact
func (m *MemoryArtifacts) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[key]
	return b, ok
}

// WithColumn returns a copy of ds with one more column whose value for row r
// is value(r)
func WithColumn(ds *dataset.Dataset, name string, value func(row int) float64) (*dataset.Dataset, error) {
	values := make([][]float64, ds.Rows())
	for r, row := range ds.Values {
		values[r] = append(append(make([]float64, 0, len(row)+1), row...), value(r))
	}
	columns := append(append([]string(nil), ds.Columns...), name)
	return dataset.New(ds.Name, ds.IDColumn, append([]string(nil), ds.SubjectIDs...), columns, values)
}
