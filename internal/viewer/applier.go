package viewer

import (
	"context"
	"log/slog"
)

// EditState is the lifecycle state of one (position, field) cell edit.
type EditState int

const (
	// Viewing: no edit in progress for the cell.
	Viewing EditState = iota
	// Editing: the cell shows the user's local draft, not the store value.
	Editing
	// Committing: the optimistic value is applied and the authoritative
	// write is in flight.
	Committing
)

type editKey struct {
	pos   int64
	field string
}

type edit struct {
	draft string
}

// WriteResult is the completion of one authoritative write, delivered back
// to the session loop. Pos and Clock are captured at commit time so the
// completion settles against the cell and guard it belongs to, whatever the
// store looks like by then.
type WriteResult struct {
	Pos   int64
	ID    ID
	Field string
	Clock uint64
	Row   Row
	Err   error
}

// Applier drives the optimistic mutation state machine. Committing a draft
// patches the row store immediately and dispatches the authoritative write
// without blocking; the server echo arriving through the broadcast relay is
// what confirms the value everywhere.
//
// A failed write does not roll the optimistic value back: under
// last-writer-wins the failure mode is "this edit might not be durable",
// never "the grid shows data this user did not enter". There is also no
// retry.
//
// Overlapping writes to the same field are allowed; each commit takes the
// next value of the session's edit clock, so the store resolves races by
// counter, not request order.
//
// Not safe for concurrent use; owned by the session loop.
type Applier struct {
	store  *RowStore
	writer RowWriter
	emit   func(WriteResult)

	clock      uint64
	edits      map[editKey]edit
	committing map[editKey]int
}

// NewApplier creates an Applier over store, dispatching writes through
// writer. Write completions are passed to emit for the session loop.
func NewApplier(store *RowStore, writer RowWriter, emit func(WriteResult)) *Applier {
	return &Applier{
		store:      store,
		writer:     writer,
		emit:       emit,
		edits:      make(map[editKey]edit),
		committing: make(map[editKey]int),
	}
}

// State returns the edit state of the cell at (pos, field).
func (a *Applier) State(pos int64, field string) EditState {
	key := editKey{pos, field}
	if _, ok := a.edits[key]; ok {
		return Editing
	}
	if a.committing[key] > 0 {
		return Committing
	}
	return Viewing
}

// Begin starts editing the cell at (pos, field), initializing the draft from
// the store value. It fails if the row is not loaded yet.
func (a *Applier) Begin(pos int64, field string) bool {
	row, ok := a.store.Get(pos)
	if !ok {
		return false
	}
	a.edits[editKey{pos, field}] = edit{draft: row.Fields[field]}
	return true
}

// Draft returns the current draft for the cell, if it is being edited.
func (a *Applier) Draft(pos int64, field string) (string, bool) {
	e, ok := a.edits[editKey{pos, field}]
	return e.draft, ok
}

// SetDraft replaces the draft of an in-progress edit.
func (a *Applier) SetDraft(pos int64, field, value string) bool {
	key := editKey{pos, field}
	if _, ok := a.edits[key]; !ok {
		return false
	}
	a.edits[key] = edit{draft: value}
	return true
}

// Cancel discards an in-progress edit: no store mutation, no network call.
func (a *Applier) Cancel(pos int64, field string) bool {
	key := editKey{pos, field}
	if _, ok := a.edits[key]; !ok {
		return false
	}
	delete(a.edits, key)
	return true
}

// Commit confirms the edit: the store is patched with the draft immediately
// and the authoritative write is dispatched asynchronously. The edit itself
// is destroyed (the cell closes); the in-flight write is tracked until its
// result arrives.
func (a *Applier) Commit(ctx context.Context, pos int64, field string) bool {
	key := editKey{pos, field}
	e, ok := a.edits[key]
	if !ok {
		return false
	}
	row, ok := a.store.Get(pos)
	if !ok {
		// Row vanished between Begin and Commit; cannot happen while the
		// store never evicts, but do not write blind.
		delete(a.edits, key)
		return false
	}
	delete(a.edits, key)

	a.clock++
	clock := a.clock
	a.store.PatchLocal(row.ID, field, e.draft, clock)
	a.committing[key]++

	id := row.ID
	value := e.draft
	go func() {
		updated, err := a.writer.WriteRow(ctx, id, map[string]string{field: value}, map[string]uint64{field: clock})
		a.emit(WriteResult{Pos: pos, ID: id, Field: field, Clock: clock, Row: updated, Err: err})
	}()
	return true
}

// HandleResult settles a write on the session loop. On success nothing else
// happens here: the server echo arrives separately through the relay and is
// idempotent. On failure the optimistic value is retained, but its
// reconciliation guard is released: the failed clock never reached the
// server, so waiting for an echo to carry it would shield the cell from
// authoritative updates forever.
func (a *Applier) HandleResult(res WriteResult) {
	key := editKey{res.Pos, res.Field}
	if a.committing[key] > 0 {
		if a.committing[key]--; a.committing[key] == 0 {
			delete(a.committing, key)
		}
	}
	if res.Err != nil {
		slog.Warn("Row write failed, keeping optimistic value", "id", res.ID, "field", res.Field, "err", res.Err)
		a.store.ReleaseLocal(res.ID, res.Field, res.Clock)
	}
}
