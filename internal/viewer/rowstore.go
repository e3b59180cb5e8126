// Package viewer implements the client-side windowed synchronization engine:
// a sparse position-indexed row store, a viewport window calculator, a page
// fetch coordinator, an optimistic mutation applier, and the viewer session
// event loop tying them together over the server API.
//
// All state is session-scoped. Components are owned by a single Session and
// are not safe for concurrent use on their own; the session event loop
// serializes every mutation (fetch completions, realtime rows, scrolls,
// edits) in FIFO arrival order.
package viewer

import (
	"fmt"
	"log/slog"
)

// clockKey identifies one locally edited field of one row.
type clockKey struct {
	id    ID
	field string
}

// RowStore is a sparse cache of rows keyed by position, with a reverse map
// from identity to position. Holes are not-yet-fetched rows. The store never
// evicts: memory is driven by rows held, which is bounded by the pages the
// viewport has touched.
//
// Invariant after every mutation: idToPos[rows[p].ID] == p for every filled
// position p.
type RowStore struct {
	rows    map[int64]Row
	idToPos map[ID]int64
	// clocks records the edit counter of locally applied optimistic writes
	// per (identity, field), so a stale server echo cannot overwrite a newer
	// local edit.
	clocks map[clockKey]uint64
	total  int64
}

// NewRowStore creates an empty RowStore.
func NewRowStore() *RowStore {
	return &RowStore{
		rows:    make(map[int64]Row),
		idToPos: make(map[ID]int64),
		clocks:  make(map[clockKey]uint64),
	}
}

// Get returns the row at position pos, if filled.
func (s *RowStore) Get(pos int64) (Row, bool) {
	row, ok := s.rows[pos]
	return row, ok
}

// Position returns the position mapped to id, if known.
func (s *RowStore) Position(id ID) (int64, bool) {
	pos, ok := s.idToPos[id]
	return pos, ok
}

// Put replaces the row at position pos, maintaining the reverse map.
func (s *RowStore) Put(pos int64, row Row) {
	if prev, ok := s.rows[pos]; ok && prev.ID != row.ID {
		// Positions are stable by design; an identity change at a filled
		// position indicates a server-side reorder we do not model.
		slog.Warn("Row identity changed at position", "pos", pos, "old", prev.ID, "new", row.ID)
		delete(s.idToPos, prev.ID)
	}
	s.rows[pos] = row
	s.idToPos[row.ID] = pos
}

// PutByIdentity replaces the row whose position is known from the reverse
// map. An unknown identity is a no-op: the row is in no fetched page yet and
// the update is dropped.
func (s *RowStore) PutByIdentity(row Row) bool {
	pos, ok := s.idToPos[row.ID]
	if !ok {
		slog.Debug("Dropping update for unknown row identity", "id", row.ID)
		return false
	}
	s.Put(pos, row)
	return true
}

// PatchLocal applies an optimistic local write to one field, recording the
// edit counter so a later, older server echo does not undo it. It is a no-op
// if the identity is not mapped to a position.
func (s *RowStore) PatchLocal(id ID, field, value string, clock uint64) bool {
	pos, ok := s.idToPos[id]
	if !ok {
		return false
	}
	row := s.rows[pos].Clone()
	if row.Fields == nil {
		row.Fields = map[string]string{}
	}
	row.Fields[field] = value
	if row.Clocks == nil {
		row.Clocks = map[string]uint64{}
	}
	row.Clocks[field] = clock
	s.rows[pos] = row
	s.clocks[clockKey{id, field}] = clock
	return true
}

// Reconcile merges an authoritative row update into the store. Server state
// wins on arrival, except fields whose locally recorded edit counter is
// strictly newer than the incoming row's counter for that field: those keep
// the optimistic local value until a fresher echo arrives. Applying the same
// row twice is idempotent. Unknown identities are dropped.
func (s *RowStore) Reconcile(row Row) bool {
	pos, ok := s.idToPos[row.ID]
	if !ok {
		slog.Debug("Dropping update for unknown row identity", "id", row.ID)
		return false
	}

	merged := row.Clone()
	current := s.rows[pos]
	for field, local := range s.localClocks(row.ID) {
		if local > merged.Clock(field) {
			// Local optimistic edit is newer than this echo: keep it.
			if merged.Fields == nil {
				merged.Fields = map[string]string{}
			}
			merged.Fields[field] = current.Fields[field]
			if merged.Clocks == nil {
				merged.Clocks = map[string]uint64{}
			}
			merged.Clocks[field] = local
		} else {
			// The echo confirms (or supersedes) the local edit.
			delete(s.clocks, clockKey{row.ID, field})
		}
	}
	s.Put(pos, merged)
	return true
}

// ReleaseLocal drops the reconciliation guard for (id, field) if it still
// carries clock. The field value itself is untouched; the next authoritative
// update for the row applies normally. Used when the write that recorded the
// guard failed: its clock never reached the server, so no echo could ever
// release it. A guard re-recorded by a newer edit is left alone.
func (s *RowStore) ReleaseLocal(id ID, field string, clock uint64) {
	key := clockKey{id, field}
	if s.clocks[key] == clock {
		delete(s.clocks, key)
	}
}

func (s *RowStore) localClocks(id ID) map[string]uint64 {
	var m map[string]uint64
	for key, clock := range s.clocks {
		if key.id != id {
			continue
		}
		if m == nil {
			m = make(map[string]uint64)
		}
		m[key.field] = clock
	}
	return m
}

// FillPage writes a fetched batch into the store: the row at batch index i
// lands at position offset+i. The total row count snapshot from the fetch
// response replaces the stored total.
func (s *RowStore) FillPage(offset int64, rows []Row, total int64) {
	for i, row := range rows {
		s.Put(offset+int64(i), row)
	}
	s.total = total
}

// LoadedCount returns the number of filled positions.
func (s *RowStore) LoadedCount() int {
	return len(s.rows)
}

// Total returns the authoritative row count from the most recent fetch.
func (s *RowStore) Total() int64 {
	return s.total
}

// SetTotal replaces the authoritative row count.
func (s *RowStore) SetTotal(total int64) {
	s.total = total
}

// CheckConsistency verifies the identity/position invariant. A violation is
// a programming-error-class fault: tests fail loud on it, a running session
// logs it and continues since a corrupted local cache cannot be corrected
// short of a full reload.
func (s *RowStore) CheckConsistency() error {
	for pos, row := range s.rows {
		mapped, ok := s.idToPos[row.ID]
		if !ok {
			return fmt.Errorf("row at position %d has unmapped identity %d", pos, row.ID)
		}
		if mapped != pos {
			return fmt.Errorf("identity %d maps to position %d but is stored at %d", row.ID, mapped, pos)
		}
	}
	for id, pos := range s.idToPos {
		row, ok := s.rows[pos]
		if !ok {
			return fmt.Errorf("identity %d maps to empty position %d", id, pos)
		}
		if row.ID != id {
			return fmt.Errorf("identity %d maps to position %d holding identity %d", id, pos, row.ID)
		}
	}
	return nil
}
