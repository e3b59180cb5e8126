// Package main implements livegrid-import, the CSV bulk import tool.
//
// It reads a CSV file whose header row names the columns, bootstraps the
// column layout if none exists yet, and appends one grid row per record to
// the JSONL table. A running livegrid server notices the appended rows
// through its file watcher.
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/livegrid/livegrid/internal/grid"
	"github.com/livegrid/livegrid/internal/store"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "livegrid-import: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	dataDir := flag.String("data-dir", "./data", "Data directory")
	csvPath := flag.String("csv", "", "CSV file to import (header row names the columns)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}
	if *csvPath == "" {
		return errors.New("-csv is required")
	}

	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	})))

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows; missing cells become empty
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) == 0 {
		return errors.New("CSV header row is empty")
	}

	table, err := store.NewTable(filepath.Join(*dataDir, "rows.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to open row table: %w", err)
	}
	layout, err := store.NewLayout(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to open layout: %w", err)
	}

	schema := &grid.Schema{Columns: make([]grid.Column, 0, len(header))}
	for _, name := range header {
		schema.Columns = append(schema.Columns, grid.Column{Name: name})
	}
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("invalid CSV header: %w", err)
	}
	if err := layout.Bootstrap(schema); err != nil {
		return fmt.Errorf("failed to bootstrap layout: %w", err)
	}

	imported := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV record %d: %w", imported+1, err)
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				fields[name] = record[i]
			} else {
				fields[name] = ""
			}
		}
		if _, err := table.Append(fields); err != nil {
			return fmt.Errorf("failed to append record %d: %w", imported+1, err)
		}
		imported++
	}

	slog.Info("Import complete", "file", *csvPath, "imported", imported, "total", table.Len())
	return nil
}
