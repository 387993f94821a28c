package markdown

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"arvis/ports"
)

func TestTable(t *testing.T) {
	table := ports.Table{Name: "reliability", Columns: []string{"scale", "alpha", "n"}}
	table.AddRow("avoidance", 0.91234, 236)
	table.AddRow("vigi|lance", math.NaN(), 236)

	md := New("ARVIS").Heading(2, "Reliability").Table(table).String()

	assert.True(t, strings.HasPrefix(md, "# ARVIS\n"))
	assert.Contains(t, md, "## Reliability")
	assert.Contains(t, md, "| scale | alpha | n |")
	assert.Contains(t, md, "| avoidance | 0.912 | 236 |")
	assert.Contains(t, md, "| vigi\\|lance | NA | 236 |")
}

func TestShortRowsArePadded(t *testing.T) {
	table := ports.Table{Columns: []string{"a", "b"}}
	table.AddRow("x")
	assert.Contains(t, New("t").Table(table).String(), "| x |  |")
}

func TestBulletsAndParagraph(t *testing.T) {
	md := New("r").Paragraph("%d items kept", 9).Bullets().Bullets("a", "b").String()
	assert.Contains(t, md, "9 items kept\n\n- a\n- b\n")
}

func TestCell(t *testing.T) {
	assert.Equal(t, "", Cell(nil))
	assert.Equal(t, "yes", Cell(true))
	assert.Equal(t, "-0.010", Cell(-0.01))
	assert.Equal(t, "+Inf", Cell(math.Inf(1)))
}
