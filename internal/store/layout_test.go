package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/livegrid/livegrid/internal/grid"
)

func testSchema() *grid.Schema {
	return &grid.Schema{
		Columns: []grid.Column{
			{Name: "title", Title: "Title", Width: 240},
			{Name: "status", Title: "Status", Width: 100},
		},
	}
}

func TestLayoutSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	layout, err := NewLayout(dir)
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	if _, ok := layout.Get(); ok {
		t.Fatalf("empty layout should report no schema")
	}

	want := testSchema()
	if err := layout.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reopened, err := NewLayout(dir)
	if err != nil {
		t.Fatalf("NewLayout on reopen failed: %v", err)
	}
	got, ok := reopened.Get()
	if !ok {
		t.Fatalf("reopened layout has no schema")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("schema mismatch after reload (-want +got):\n%s", diff)
	}
}

func TestLayoutSaveRejectsInvalidSchema(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	bad := &grid.Schema{Columns: []grid.Column{{Name: "a"}, {Name: "a"}}}
	if err := layout.Save(bad); err == nil {
		t.Fatalf("Save accepted a schema with duplicate column names")
	}
}

func TestLayoutBootstrapOnlyOnce(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	first := testSchema()
	if err := layout.Bootstrap(first); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	second := &grid.Schema{Columns: []grid.Column{{Name: "other"}}}
	if err := layout.Bootstrap(second); err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}
	got, ok := layout.Get()
	if !ok {
		t.Fatalf("layout has no schema after bootstrap")
	}
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("second Bootstrap overwrote the schema (-want +got):\n%s", diff)
	}
}

func TestLayoutGetReturnsClone(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	if err := layout.Save(testSchema()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ := layout.Get()
	got.Columns[0].Title = "mutated"

	again, _ := layout.Get()
	if again.Columns[0].Title != "Title" {
		t.Errorf("mutating a returned schema changed the stored schema")
	}
}
