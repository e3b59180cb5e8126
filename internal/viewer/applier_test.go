package viewer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeWriter echoes writes back as the server would, with the clocks merged
// into the row. err, when set, fails the write instead.
type fakeWriter struct {
	err error

	mu     sync.Mutex
	writes []writeCall
}

type writeCall struct {
	id     ID
	fields map[string]string
	clocks map[string]uint64
}

func (w *fakeWriter) WriteRow(ctx context.Context, id ID, fields map[string]string, clocks map[string]uint64) (Row, error) {
	w.mu.Lock()
	w.writes = append(w.writes, writeCall{id: id, fields: fields, clocks: clocks})
	w.mu.Unlock()
	if w.err != nil {
		return Row{}, w.err
	}
	row := makeRow(id, "Open", 0)
	for field, value := range fields {
		row.Fields[field] = value
	}
	for field, clock := range clocks {
		row.Clocks[field] = clock
	}
	return row, nil
}

func (w *fakeWriter) calls() []writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writeCall(nil), w.writes...)
}

func newTestApplier(writer RowWriter) (*Applier, *RowStore, chan WriteResult) {
	store := NewRowStore()
	store.FillPage(0, makePage(0, 10), 10)
	results := make(chan WriteResult, 16)
	a := NewApplier(store, writer, func(res WriteResult) { results <- res })
	return a, store, results
}

func awaitWrite(t *testing.T, ch <-chan WriteResult) WriteResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for write completion")
		return WriteResult{}
	}
}

func TestApplierEditLifecycle(t *testing.T) {
	a, store, results := newTestApplier(&fakeWriter{})

	if a.State(4, "status") != Viewing {
		t.Fatalf("initial state is not Viewing")
	}
	if !a.Begin(4, "status") {
		t.Fatalf("Begin failed for a loaded row")
	}
	if a.State(4, "status") != Editing {
		t.Fatalf("state after Begin is not Editing")
	}
	if draft, _ := a.Draft(4, "status"); draft != "Open" {
		t.Fatalf("draft initialized to %q, want the store value Open", draft)
	}
	if !a.SetDraft(4, "status", "Done") {
		t.Fatalf("SetDraft failed")
	}

	if !a.Commit(context.Background(), 4, "status") {
		t.Fatalf("Commit failed")
	}
	// The optimistic value is visible before the write settles.
	row, _ := store.Get(4)
	if row.Fields["status"] != "Done" {
		t.Fatalf("optimistic status = %q, want Done", row.Fields["status"])
	}
	if a.State(4, "status") != Committing {
		t.Fatalf("state after Commit is not Committing")
	}

	res := awaitWrite(t, results)
	if res.Err != nil {
		t.Fatalf("write failed: %v", res.Err)
	}
	if res.Pos != 4 || res.ID != 5 {
		t.Fatalf("completion = %+v, want commit-time position 4 and identity 5", res)
	}
	a.HandleResult(res)
	if a.State(4, "status") != Viewing {
		t.Fatalf("state after settled write is not Viewing")
	}
}

func TestApplierBeginOnUnloadedRow(t *testing.T) {
	a, _, _ := newTestApplier(&fakeWriter{})
	if a.Begin(5000, "status") {
		t.Fatalf("Begin succeeded on a hole")
	}
}

func TestApplierCancelDiscardsDraft(t *testing.T) {
	writer := &fakeWriter{}
	a, store, _ := newTestApplier(writer)

	a.Begin(2, "status")
	a.SetDraft(2, "status", "Done")
	if !a.Cancel(2, "status") {
		t.Fatalf("Cancel failed")
	}
	row, _ := store.Get(2)
	if row.Fields["status"] != "Open" {
		t.Fatalf("Cancel mutated the store: status = %q", row.Fields["status"])
	}
	if len(writer.calls()) != 0 {
		t.Fatalf("Cancel dispatched a write")
	}
	if a.State(2, "status") != Viewing {
		t.Fatalf("state after Cancel is not Viewing")
	}
}

func TestApplierFailedWriteKeepsOptimisticValue(t *testing.T) {
	writer := &fakeWriter{err: errors.New("persist failed")}
	a, store, results := newTestApplier(writer)

	a.Begin(4, "status")
	a.SetDraft(4, "status", "Done")
	a.Commit(context.Background(), 4, "status")

	res := awaitWrite(t, results)
	if res.Err == nil {
		t.Fatalf("expected the write to fail")
	}
	a.HandleResult(res)

	// No rollback: the cell keeps showing what the user entered.
	row, _ := store.Get(4)
	if row.Fields["status"] != "Done" {
		t.Fatalf("failed write rolled back the value: status = %q", row.Fields["status"])
	}
	// And no retry: exactly one write was dispatched.
	if n := len(writer.calls()); n != 1 {
		t.Fatalf("writer called %d times, want 1", n)
	}
	if a.State(4, "status") != Viewing {
		t.Fatalf("state after failed write is not Viewing")
	}
}

func TestApplierFailedWriteStopsShieldingCell(t *testing.T) {
	writer := &fakeWriter{err: errors.New("persist failed")}
	a, store, results := newTestApplier(writer)

	a.Begin(4, "status")
	a.SetDraft(4, "status", "Done")
	a.Commit(context.Background(), 4, "status")
	a.HandleResult(awaitWrite(t, results))

	// The optimistic value remains visible after the failure...
	row, _ := store.Get(4)
	if row.Fields["status"] != "Done" {
		t.Fatalf("failed write rolled back the value: status = %q", row.Fields["status"])
	}

	// ...but it is no longer protected: the failed write's clock never
	// reached the server, so no echo can ever carry it. The next
	// authoritative update must win even with a lower clock, or the cell
	// would show the non-durable value forever.
	store.Reconcile(makeRow(5, "Reopened", 0))
	row, _ = store.Get(4)
	if row.Fields["status"] != "Reopened" {
		t.Fatalf("authoritative update after failed write lost: status = %q", row.Fields["status"])
	}
}

func TestApplierSettlesWriteAfterRowRemapped(t *testing.T) {
	writer := &fakeWriter{}
	a, store, results := newTestApplier(writer)

	a.Begin(4, "status")
	a.SetDraft(4, "status", "Done")
	a.Commit(context.Background(), 4, "status")
	res := awaitWrite(t, results)

	// The row's identity vanishes from the store before the write settles.
	// The completion still lands on the commit-time cell, so the edit state
	// does not stay pinned at Committing.
	store.Put(4, makeRow(999, "Open", 0))
	a.HandleResult(res)
	if a.State(4, "status") != Viewing {
		t.Fatalf("write completion did not settle the commit-time cell")
	}
}

func TestApplierOverlappingCommitsUseDistinctClocks(t *testing.T) {
	writer := &fakeWriter{}
	a, _, results := newTestApplier(writer)

	a.Begin(0, "status")
	a.SetDraft(0, "status", "In Progress")
	a.Commit(context.Background(), 0, "status")

	a.Begin(0, "status")
	a.SetDraft(0, "status", "Done")
	a.Commit(context.Background(), 0, "status")

	a.HandleResult(awaitWrite(t, results))
	a.HandleResult(awaitWrite(t, results))

	calls := writer.calls()
	if len(calls) != 2 {
		t.Fatalf("writer called %d times, want 2", len(calls))
	}
	c0, c1 := calls[0].clocks["status"], calls[1].clocks["status"]
	if c0 == c1 {
		t.Fatalf("overlapping commits share clock %d", c0)
	}
	if a.State(0, "status") != Viewing {
		t.Fatalf("state after both writes settled is not Viewing")
	}
}
