// Package model holds the shared domain types passed between the store,
// the match engine, and the reduction pipeline.
package model

import (
	"math"
	"strconv"
)

// Wire-contract column names. These are case-sensitive literals shared with
// external tools that read the store file; do not rename.
const (
	ColCatalogObject = "CATALOG_OBJECT"
	ColCatalogRA     = "CATALOG_RA"
	ColCatalogDec    = "CATALOG_DEC"
	ColSeparation    = "SEPARATION"

	// Canonical names the coordinate and column-name corrections give the
	// matched candidate's own fields.
	ColMatchRA   = "RA"
	ColMatchDec  = "DEC"
	ColMatchName = "NAME"
	ColMatchType = "TYPE"
)

// MatchTableSuffix marks per-reference-database match tables in the store.
const MatchTableSuffix = "_MATCH"

// Position is a sky position in degrees. RA/Dec are ICRS unless the
// surrounding schema says otherwise.
type Position struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Row is one table row keyed by column name. Values are the driver-native
// scalar types (float64, int64, string, []byte, nil).
type Row map[string]any

// Table is an ordered set of columns plus rows. Column order is preserved
// because it is part of the on-disk table contract.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable creates an empty table with the given column order.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// HasColumn reports whether the table declares the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// EnsureColumn appends the column to the declared set if absent.
func (t *Table) EnsureColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// RenameColumn renames a declared column and rewrites every row key.
// Reports whether the column was present.
func (t *Table) RenameColumn(from, to string) bool {
	if from == to {
		return t.HasColumn(from)
	}
	found := false
	for i, c := range t.Columns {
		if c == from {
			t.Columns[i] = to
			found = true
		}
	}
	if !found {
		return false
	}
	for _, r := range t.Rows {
		if v, ok := r[from]; ok {
			r[to] = v
			delete(r, from)
		}
	}
	return true
}

// DropColumn removes a declared column and its values from every row.
// Reports whether the column was present.
func (t *Table) DropColumn(name string) bool {
	found := false
	cols := t.Columns[:0]
	for _, c := range t.Columns {
		if c == name {
			found = true
			continue
		}
		cols = append(cols, c)
	}
	t.Columns = cols
	if !found {
		return false
	}
	for _, r := range t.Rows {
		delete(r, name)
	}
	return true
}

// Append adds a row. Missing columns read back as nil.
func (t *Table) Append(r Row) {
	t.Rows = append(t.Rows, r)
}

// Float coerces a driver value to float64. Unparseable or missing values
// come back as NaN with ok=false so callers can propagate them.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	default:
		return math.NaN(), false
	}
}

// String coerces a driver value to string. Non-text values yield "".
func String(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}
