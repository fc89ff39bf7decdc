package columnar

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bqbridge/bqbridge/internal/jsonvalue"
)

// Field is one named value of a Row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered mapping from column name to value. Names are unique
// within a row; a name that is absent reads as null.
type Row []Field

// Get returns the value stored under name.
func (r Row) Get(name string) (any, bool) {
	for _, field := range r {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Set replaces the value stored under name, appending the field when absent.
func (r Row) Set(name string, value any) Row {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Name: name, Value: value})
}

func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, field := range r {
		names[i] = field.Name
	}
	return names
}

// Map returns the row as an unordered map.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r))
	for _, field := range r {
		out[field.Name] = field.Value
	}
	return out
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal column %q: %w", field.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Row) UnmarshalJSON(data []byte) error {
	members, err := jsonvalue.DecodeObject(data)
	if err != nil {
		return err
	}
	row := make(Row, len(members))
	for i, member := range members {
		row[i] = Field{Name: member.Key, Value: member.Value}
	}
	*r = row
	return nil
}

// RowFromMap builds a row from m using the given column order. Keys of m
// that are not listed in order are dropped.
func RowFromMap(order []string, m map[string]any) Row {
	row := make(Row, 0, len(order))
	for _, name := range order {
		if value, ok := m[name]; ok {
			row = append(row, Field{Name: name, Value: value})
		}
	}
	return row
}
