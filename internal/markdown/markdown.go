// Package markdown builds the Markdown text of the end-of-run report.
package markdown

import (
	"fmt"
	"math"
	"strings"

	"arvis/ports"
)

// Document accumulates report sections in order
type Document struct {
	b strings.Builder
}

// New starts a document with a top-level title
func New(title string) *Document {
	m := &Document{}
	m.Heading(1, title)
	return m
}

// Heading appends a heading of the given level (1-6)
func (m *Document) Heading(level int, text string) *Document {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	fmt.Fprintf(&m.b, "%s %s\n\n", strings.Repeat("#", level), text)
	return m
}

// Paragraph appends a formatted paragraph
func (m *Document) Paragraph(format string, args ...interface{}) *Document {
	fmt.Fprintf(&m.b, format, args...)
	m.b.WriteString("\n\n")
	return m
}

// Bullets appends an unordered list
func (m *Document) Bullets(lines ...string) *Document {
	if len(lines) == 0 {
		return m
	}
	for _, l := range lines {
		fmt.Fprintf(&m.b, "- %s\n", l)
	}
	m.b.WriteString("\n")
	return m
}

// Table appends a result table as a pipe table. Floats are shown to three decimals.
func (m *Document) Table(t ports.Table) *Document {
	if len(t.Columns) == 0 {
		return m
	}
	m.b.WriteString("| " + strings.Join(escapeAll(t.Columns), " | ") + " |\n")
	m.b.WriteString("|" + strings.Repeat(" --- |", len(t.Columns)) + "\n")
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = escape(Cell(row[i]))
			}
		}
		m.b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	m.b.WriteString("\n")
	return m
}

// Bytes returns the accumulated text
func (m *Document) Bytes() []byte {
	return []byte(m.b.String())
}

func (m *Document) String() string {
	return m.b.String()
}

// Cell renders one table cell for display
func Cell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return "NA"
		}
		if math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return fmt.Sprintf("%.3f", x)
	case int:
		return fmt.Sprintf("%d", x)
	case bool:
		if x {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprint(x)
	}
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func escapeAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = escape(s)
	}
	return out
}
