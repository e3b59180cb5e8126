package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/livegrid/livegrid/internal/grid"
)

// Layout persists the column layout (order, titles, widths, visibility) next
// to the table file. Writes are atomic so a crashed save never leaves a
// truncated layout behind.
type Layout struct {
	path string
	mu   sync.RWMutex

	schema *grid.Schema
}

// NewLayout loads the layout from dir, or leaves it empty if the file does
// not exist yet (bootstrapped on first import or first save).
func NewLayout(dir string) (*Layout, error) {
	l := &Layout{path: filepath.Join(dir, "layout.json")}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to read layout file: %w", err)
	}
	var schema grid.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal layout file %s: %w", l.path, err)
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layout file %s: %w", l.path, err)
	}
	l.schema = &schema
	return l, nil
}

// Get returns a copy of the current schema, or false if none was saved yet.
func (l *Layout) Get() (*grid.Schema, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.schema == nil {
		return nil, false
	}
	return l.schema.Clone(), true
}

// Save validates and persists the schema atomically.
func (l *Layout) Save(schema *grid.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := atomic.WriteFile(l.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write layout file: %w", err)
	}
	l.schema = schema.Clone()
	return nil
}

// Bootstrap saves the schema only if none exists yet. Used by the import
// tool to derive an initial layout from the CSV header.
func (l *Layout) Bootstrap(schema *grid.Schema) error {
	l.mu.RLock()
	exists := l.schema != nil
	l.mu.RUnlock()
	if exists {
		return nil
	}
	return l.Save(schema)
}
