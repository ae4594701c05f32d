// Package frame holds the tabular value passed between pipeline steps.
package frame

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ColumnType is the simple type tag carried by a column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
)

// ErrUnknownColumn is returned when a row carries a key that is not a
// declared column.
var ErrUnknownColumn = errors.New("frame: row references undeclared column")

// Column is a named, typed column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// DataFrame is an ordered list of typed columns plus row records keyed by
// column name.
type DataFrame struct {
	Columns []Column         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// New builds a DataFrame and checks that every row key is a declared column.
func New(columns []Column, rows []map[string]any) (*DataFrame, error) {
	df := &DataFrame{Columns: columns, Rows: rows}
	if err := df.Validate(); err != nil {
		return nil, err
	}
	return df, nil
}

// Empty returns a zero-row frame with the given schema.
func Empty(columns []Column) *DataFrame {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &DataFrame{Columns: cols, Rows: []map[string]any{}}
}

// Validate reports the first row key that is not a declared column.
func (df *DataFrame) Validate() error {
	declared := make(map[string]struct{}, len(df.Columns))
	for _, c := range df.Columns {
		declared[c.Name] = struct{}{}
	}
	for i, row := range df.Rows {
		for k := range row {
			if _, ok := declared[k]; !ok {
				return fmt.Errorf("row %d key %q: %w", i, k, ErrUnknownColumn)
			}
		}
	}
	return nil
}

// Len returns the number of rows. A nil frame has zero rows.
func (df *DataFrame) Len() int {
	if df == nil {
		return 0
	}
	return len(df.Rows)
}

// ColumnNames returns the column names in declaration order.
func (df *DataFrame) ColumnNames() []string {
	if df == nil {
		return nil
	}
	names := make([]string, len(df.Columns))
	for i, c := range df.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema returns a copy of the column list.
func (df *DataFrame) Schema() []Column {
	if df == nil {
		return nil
	}
	return append([]Column(nil), df.Columns...)
}

// WithSchemaOnly returns an empty frame carrying this frame's columns.
func (df *DataFrame) WithSchemaOnly() *DataFrame {
	if df == nil {
		return Empty(nil)
	}
	return Empty(df.Columns)
}

// InferType tags a column from its sampled values. Nil values are ignored;
// mixed or unrecognised values fall back to string.
func InferType(values []any) ColumnType {
	var seen ColumnType
	for _, v := range values {
		if v == nil {
			continue
		}
		var t ColumnType
		switch x := v.(type) {
		case float64, float32, int, int64, int32:
			t = TypeNumber
		case bool:
			t = TypeBoolean
		case time.Time:
			t = TypeDate
		case string:
			if _, err := time.Parse(time.RFC3339, x); err == nil {
				t = TypeDate
			} else if _, err := time.Parse(time.DateOnly, x); err == nil {
				t = TypeDate
			} else {
				t = TypeString
			}
		default:
			t = TypeString
		}
		if seen == "" {
			seen = t
		} else if seen != t {
			return TypeString
		}
	}
	if seen == "" {
		return TypeString
	}
	return seen
}

// Infer builds a frame from raw records and tags column types. Columns named
// in order come first; any other keys follow in lexical order.
func Infer(records []map[string]any, order []string) *DataFrame {
	names := append([]string(nil), order...)
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	var extra []string
	for _, r := range records {
		for k := range r {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)
	cols := make([]Column, len(names))
	for i, n := range names {
		vals := make([]any, 0, len(records))
		for _, r := range records {
			vals = append(vals, r[n])
		}
		cols[i] = Column{Name: n, Type: InferType(vals)}
	}
	if records == nil {
		records = []map[string]any{}
	}
	return &DataFrame{Columns: cols, Rows: records}
}
