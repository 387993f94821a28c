package excel

// RawTable is a header row plus string cells, before numeric coercion
type RawTable struct {
	Headers []string
	Rows    [][]string
}
