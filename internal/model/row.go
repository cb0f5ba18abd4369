package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one record of a tabular result. Column order is the order the
// columns first appeared in the source object and survives JSON round trips.
//
// Values are nil, string, bool, json.Number, or a nested value decoded
// generically. A Row is never mutated after decoding.
type Row struct {
	columns []string
	values  map[string]any
}

// NewRow builds a row from parallel column and value slices. A repeated
// column keeps its first position and its last value.
func NewRow(columns []string, values []any) Row {
	r := Row{values: make(map[string]any, len(columns))}
	for i, c := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.set(c, v)
	}
	return r
}

func (r *Row) set(col string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[col]; !ok {
		r.columns = append(r.columns, col)
	}
	r.values[col] = v
}

// Columns returns the column names in order. The slice is a copy.
func (r Row) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Get returns the value of col and whether the column exists.
func (r Row) Get(col string) (any, bool) {
	v, ok := r.values[col]
	return v, ok
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

// Header returns the column set of a result, taken from its first row.
func Header(rows []Row) []string {
	if len(rows) == 0 {
		return nil
	}
	return rows[0].Columns()
}

// MarshalJSON writes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(r.values[c])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping key order. Numbers are kept as
// json.Number so integers survive exactly.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("row must be a JSON object, got %v", tok)
	}

	*r = Row{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected row key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		r.set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
