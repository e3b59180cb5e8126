// Package store implements the backing store for the grid: a JSONL-backed
// row table with bounded paginated reads and last-writer-wins field patches,
// plus persistence for the column layout.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/livegrid/livegrid/internal/grid"
)

// ErrRowNotFound is returned when a patch targets an unknown row identity.
var ErrRowNotFound = errors.New("row not found")

// Table handles storage and in-memory caching of all rows in JSONL format.
// Rows are ordered by ascending identity; a row's position in the file equals
// its position in the grid. Per-row writes are serialized by the table mutex.
type Table struct {
	path string
	mu   sync.RWMutex

	rows []grid.Row
}

// NewTable creates a Table and loads all rows from the file.
func NewTable(path string) (*Table, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	t := &Table{path: path}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// Path returns the table file path.
func (t *Table) Path() string {
	return t.path
}

func (t *Table) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked()
}

func (t *Table) loadLocked() error {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = nil
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []grid.Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row grid.Row
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	t.rows = rows
	return nil
}

// Len returns the current total row count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// ReadPage returns clones of up to limit rows starting at offset, in
// ascending identity order, along with the total row count at the time of
// the read. The limit is clamped to [1, grid.MaxPageLimit]; a negative
// offset is rejected. An offset at or past the end returns no rows.
func (t *Table) ReadPage(offset, limit int64) ([]grid.Row, int64, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("offset must be non-negative, got %d", offset)
	}
	if limit <= 0 {
		limit = grid.DefaultPageSize
	}
	if limit > grid.MaxPageLimit {
		limit = grid.MaxPageLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	total := int64(len(t.rows))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	rows := make([]grid.Row, 0, end-offset)
	for _, row := range t.rows[offset:end] {
		rows = append(rows, row.Clone())
	}
	return rows, total, nil
}

// Get returns a clone of the row with the given identity.
func (t *Table) Get(id grid.ID) (grid.Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := int64(id) - 1
	if i < 0 || i >= int64(len(t.rows)) {
		return grid.Row{}, ErrRowNotFound
	}
	return t.rows[i].Clone(), nil
}

// Append adds a new row with the next identity and persists it. It returns
// the full stored row.
func (t *Table) Append(fields map[string]string) (grid.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := grid.Row{ID: grid.ID(len(t.rows) + 1), Fields: fields}
	if row.Fields == nil {
		row.Fields = map[string]string{}
	}
	if err := row.Validate(); err != nil {
		return grid.Row{}, err
	}

	data, err := json.Marshal(row)
	if err != nil {
		return grid.Row{}, fmt.Errorf("failed to marshal row: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return grid.Row{}, fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(data); err != nil {
		return grid.Row{}, fmt.Errorf("failed to write row: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return grid.Row{}, fmt.Errorf("failed to write newline: %w", err)
	}

	t.rows = append(t.rows, row)
	return row.Clone(), nil
}

// Patch merges the given field values into the row with the given identity
// and persists the table. The merge is last-writer-wins per call: every
// field in fields replaces the stored value wholesale. Per-field clocks are
// raised to at least the incoming values so they never move backwards. The
// full updated row is returned.
func (t *Table) Patch(id grid.ID, fields map[string]string, clocks map[string]uint64) (grid.Row, error) {
	if len(fields) == 0 {
		return grid.Row{}, errors.New("no fields to patch")
	}
	for name := range fields {
		if name == "" {
			return grid.Row{}, errors.New("field name cannot be empty")
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := int64(id) - 1
	if i < 0 || i >= int64(len(t.rows)) {
		return grid.Row{}, ErrRowNotFound
	}

	row := t.rows[i].Clone()
	if row.Fields == nil {
		row.Fields = map[string]string{}
	}
	for name, value := range fields {
		row.Fields[name] = value
	}
	for name, clock := range clocks {
		if row.Clocks == nil {
			row.Clocks = map[string]uint64{}
		}
		if clock > row.Clocks[name] {
			row.Clocks[name] = clock
		}
	}

	t.rows[i] = row
	if err := t.persistLocked(); err != nil {
		return grid.Row{}, err
	}
	return row.Clone(), nil
}

// persistLocked rewrites the whole table file. Caller must hold mu.
func (t *Table) persistLocked() error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Reload re-reads the table from disk, picking up rows appended by another
// process (e.g. the import tool).
func (t *Table) Reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked()
}
