// Package grid defines the row and page data types shared by the server,
// the broadcast relay, and the client-side viewer engine.
package grid

import (
	"errors"
	"fmt"
	"maps"
)

// ID is a row identity: a server-assigned ordinal, monotonically increasing
// and never reused. A row's position (0-based rank by ascending ID) equals
// its insertion order and is stable once assigned.
type ID int64

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == 0
}

func (id ID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

// Row is a single table row: an identity plus a mapping of field name to
// free-form text value. Numeric and date fields are coerced at presentation
// time only.
//
// Clocks carries the per-field edit counter last applied to each field. It is
// assigned by the editing client, raised monotonically by the store on write,
// and used by viewers to avoid overwriting a newer local edit with an older
// server echo. Fields absent from Clocks have an implicit counter of zero.
type Row struct {
	ID     ID                `json:"id"`
	Fields map[string]string `json:"fields"`
	Clocks map[string]uint64 `json:"clocks,omitempty"`
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	c := Row{ID: r.ID}
	if r.Fields != nil {
		c.Fields = maps.Clone(r.Fields)
	}
	if r.Clocks != nil {
		c.Clocks = maps.Clone(r.Clocks)
	}
	return c
}

// Clock returns the edit counter recorded for field, zero if none.
func (r Row) Clock(field string) uint64 {
	return r.Clocks[field]
}

var (
	errRowIDInvalid   = errors.New("row id must be positive")
	errFieldNameEmpty = errors.New("field name cannot be empty")
)

// Validate checks that the row is well-formed.
func (r Row) Validate() error {
	if r.ID <= 0 {
		return errRowIDInvalid
	}
	for name := range r.Fields {
		if name == "" {
			return errFieldNameEmpty
		}
	}
	for name := range r.Clocks {
		if name == "" {
			return errFieldNameEmpty
		}
	}
	return nil
}
