// Package charts turns markdown tables found in model output into rendered
// chart images. Extraction is best-effort; a table that fails validation is
// simply left as text.
package charts

import (
	"strconv"
	"strings"
)

const (
	minDataRows = 2
	maxDataRows = 50
)

// Table is one parsed markdown table with at least one numeric column.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string

	// NumericColumn indexes the first column whose cells all parse as numbers.
	NumericColumn int
}

// Labels returns the first-column cell of each row.
func (t Table) Labels() []string {
	labels := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		labels[i] = row[0]
	}
	return labels
}

// Values returns the numeric-column cell of each row, parsed.
func (t Table) Values() []float64 {
	values := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		values[i], _ = parseNumber(row[t.NumericColumn])
	}
	return values
}

// ExtractTables finds chartable markdown tables in text. Tables without a
// separator row, with fewer than two data rows, or without a numeric column
// are skipped.
func ExtractTables(text string) []Table {
	var tables []Table

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		if !isTableRow(lines[i]) {
			continue
		}

		start := i
		for i < len(lines) && isTableRow(lines[i]) {
			i++
		}

		if table, ok := parseTable(lines, start, i); ok {
			tables = append(tables, table)
		}
	}

	return tables
}

// parseTable validates the table rows in lines[start:end) and builds a Table.
func parseTable(lines []string, start, end int) (Table, bool) {
	if end-start < 2+minDataRows {
		return Table{}, false
	}
	if !isSeparatorRow(lines[start+1]) {
		return Table{}, false
	}

	headers := splitRow(lines[start])
	if len(headers) < 2 {
		return Table{}, false
	}

	var rows [][]string
	for _, line := range lines[start+2 : end] {
		cells := splitRow(line)
		if len(cells) != len(headers) {
			return Table{}, false
		}
		rows = append(rows, cells)
	}
	if len(rows) < minDataRows || len(rows) > maxDataRows {
		return Table{}, false
	}

	numericColumn := -1
	for col := 1; col < len(headers); col++ {
		allNumeric := true
		for _, row := range rows {
			if _, ok := parseNumber(row[col]); !ok {
				allNumeric = false
				break
			}
		}
		if allNumeric {
			numericColumn = col
			break
		}
	}
	if numericColumn < 0 {
		return Table{}, false
	}

	title := headers[numericColumn]
	if title == "" {
		title = "Chart"
	}

	return Table{
		Title:         title,
		Headers:       headers,
		Rows:          rows,
		NumericColumn: numericColumn,
	}, true
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 2
}

// isSeparatorRow matches the |---|---| row under a markdown table header.
func isSeparatorRow(line string) bool {
	if !isTableRow(line) {
		return false
	}
	for _, cell := range splitRow(line) {
		if cell == "" {
			return false
		}
		for _, r := range cell {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}

func splitRow(line string) []string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")

	parts := strings.Split(trimmed, "|")
	cells := make([]string, len(parts))
	for i, part := range parts {
		cells[i] = strings.TrimSpace(part)
	}
	return cells
}

// parseNumber accepts plain numbers plus common decorations like thousands
// separators, currency symbols and percent suffixes.
func parseNumber(cell string) (float64, bool) {
	cleaned := strings.TrimSpace(cell)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.TrimPrefix(cleaned, "€")
	cleaned = strings.TrimSuffix(cleaned, "%")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
