package grid

import (
	"errors"
	"fmt"
)

// Column describes one column of the table: its field name plus the
// presentation attributes persisted as part of the column layout.
type Column struct {
	Name   string `json:"name"`
	Title  string `json:"title,omitempty"`
	Width  int    `json:"width,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

// Schema is the ordered set of columns for the table.
type Schema struct {
	Columns []Column `json:"columns"`
}

var errSchemaEmpty = errors.New("schema must have at least one column")

// Validate checks that the schema is well-formed: at least one column, no
// empty or duplicate names.
func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return errSchemaEmpty
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for i, col := range s.Columns {
		if col.Name == "" {
			return fmt.Errorf("column %d: name is required", i)
		}
		if _, ok := seen[col.Name]; ok {
			return fmt.Errorf("column %d: duplicate name %q", i, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	c := &Schema{Columns: make([]Column, len(s.Columns))}
	copy(c.Columns, s.Columns)
	return c
}
