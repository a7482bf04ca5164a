package extract

import (
	"regexp"
	"strings"
)

var reCellSep = regexp.MustCompile(`\s{2,}|\t|\s*\|\s*`)

// DetectTables finds runs of at least two consecutive lines that split into
// two or more columns on wide whitespace, tabs or pipes. Rows are padded so
// every table is rectangular.
func DetectTables(text string) []Table {
	var (
		tables []Table
		cur    Table
	)
	flush := func() {
		if len(cur) >= 2 {
			tables = append(tables, rectangular(cur))
		}
		cur = nil
	}
	for _, line := range strings.Split(text, "\n") {
		cells := splitCells(line)
		if len(cells) < 2 {
			flush()
			continue
		}
		cur = append(cur, cells)
	}
	flush()
	return tables
}

func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var cells []string
	for _, c := range reCellSep.Split(line, -1) {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func rectangular(t Table) Table {
	width := 0
	for _, row := range t {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range t {
		for len(row) < width {
			row = append(row, "")
		}
		t[i] = row
	}
	return t
}
