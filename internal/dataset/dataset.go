// Package dataset holds read-only tabular snapshots that quality checks run
// against, plus loaders from CSV and object storage.
package dataset

import (
	"strings"
)

// Dataset is a named, immutable table of string cells. Callers own it; the
// validation engine only reads it, so accessors return copies where a slice
// would otherwise escape.
type Dataset struct {
	name    string
	columns []string
	index   map[string]int
	rows    [][]string
}

// New copies columns and rows into a Dataset. Rows shorter than the header
// are allowed; missing trailing cells read as null.
func New(name string, columns []string, rows [][]string) *Dataset {
	cols := make([]string, len(columns))
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		cols[i] = c
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}
	copied := make([][]string, len(rows))
	for i, row := range rows {
		copied[i] = append([]string(nil), row...)
	}
	return &Dataset{name: name, columns: cols, index: index, rows: copied}
}

// FromRecords builds a Dataset from per-row maps using the given column order.
// Columns absent from a record are stored as empty (null) cells.
func FromRecords(name string, columns []string, records []map[string]string) *Dataset {
	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = rec[c]
		}
		rows[i] = row
	}
	return New(name, columns, rows)
}

func (d *Dataset) Name() string { return d.name }

func (d *Dataset) Len() int { return len(d.rows) }

func (d *Dataset) Columns() []string {
	return append([]string(nil), d.columns...)
}

func (d *Dataset) HasColumn(column string) bool {
	_, ok := d.index[column]
	return ok
}

// MissingColumns returns the entries of required that are not in the header,
// preserving their order.
func (d *Dataset) MissingColumns(required []string) []string {
	var missing []string
	for _, c := range required {
		if !d.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Raw returns the cell text, or "" when the column or cell is absent.
func (d *Dataset) Raw(row int, column string) string {
	idx, ok := d.index[column]
	if !ok || row < 0 || row >= len(d.rows) {
		return ""
	}
	cells := d.rows[row]
	if idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// Value returns the trimmed cell and false when it is null.
func (d *Dataset) Value(row int, column string) (string, bool) {
	v := strings.TrimSpace(d.Raw(row, column))
	if IsNull(v) {
		return "", false
	}
	return v, true
}

// NullCount counts null cells of column. A missing column counts every row.
func (d *Dataset) NullCount(column string) int {
	n := 0
	for i := range d.rows {
		if _, ok := d.Value(i, column); !ok {
			n++
		}
	}
	return n
}

// IsNull treats blanks and the usual textual null markers as missing.
func IsNull(v string) bool {
	switch strings.TrimSpace(v) {
	case "", "NULL", "null", "NaN", "nan", "None", "<NA>":
		return true
	default:
		return false
	}
}
