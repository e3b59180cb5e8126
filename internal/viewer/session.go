package viewer

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/livegrid/livegrid/internal/grid"
)

// Options configures a Session.
type Options struct {
	// PageSize is the fetch page width; defaults to grid.DefaultPageSize.
	PageSize int64
	// RowHeight is the estimated pixel height of one row; defaults to 32.
	RowHeight int64
	// Overscan is the instantiation margin in positions on each side of the
	// visible range; defaults to DefaultOverscan.
	Overscan int64
}

func (o *Options) fill() {
	if o.PageSize <= 0 {
		o.PageSize = grid.DefaultPageSize
	}
	if o.RowHeight <= 0 {
		o.RowHeight = 32
	}
	if o.Overscan <= 0 {
		o.Overscan = DefaultOverscan
	}
}

// Session is one viewer's windowed view of the grid: a row store, a fetch
// coordinator and a mutation applier, all owned by a single event loop that
// serializes scrolls, fetch completions, write completions and broadcast
// rows in FIFO arrival order. Fetches and writes overlap at the I/O level,
// but no two state mutations ever interleave.
//
// Sessions are created per viewer connection and torn down with Close; no
// state is shared between sessions.
type Session struct {
	id      string
	opts    Options
	store   *RowStore
	fetcher *Fetcher
	applier *Applier

	ctx         context.Context
	cancel      context.CancelFunc
	events      chan func()
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// NewSession creates a session over the given backing-store primitives and
// subscribes it to the broadcast feed. sub may be nil for a fetch-only
// session (e.g. the import tool's verification pass).
func NewSession(reader PageReader, writer RowWriter, sub Subscriber, opts Options) (*Session, error) {
	opts.fill()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     ulid.Make().String(),
		opts:   opts,
		store:  NewRowStore(),
		ctx:    ctx,
		cancel: cancel,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
	}
	s.fetcher = NewFetcher(reader, opts.PageSize, func(res PageResult) {
		s.post(func() { s.handlePage(res) })
	})
	s.applier = NewApplier(s.store, writer, func(res WriteResult) {
		s.post(func() { s.handleWrite(res) })
	})

	if sub != nil {
		unsubscribe, err := sub.Subscribe(ctx, func(row Row) {
			s.post(func() { s.handleRow(row) })
		})
		if err != nil {
			cancel()
			return nil, err
		}
		s.unsubscribe = unsubscribe
	}

	go s.loop()
	slog.Debug("Viewer session started", "session", s.id)
	return s, nil
}

// ID returns the session identifier (used in logs only).
func (s *Session) ID() string {
	return s.id
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// post queues fn onto the event loop; events are dropped once the session
// is closed.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.ctx.Done():
	}
}

// do runs fn on the event loop and waits for it, for synchronous reads of
// loop-owned state. Returns false if the session is closed.
func (s *Session) do(fn func()) bool {
	ready := make(chan struct{})
	select {
	case s.events <- func() {
		fn()
		close(ready)
	}:
	case <-s.ctx.Done():
		return false
	}
	select {
	case <-ready:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Scroll recomputes the viewport window for the given scroll offset and
// viewport height (both in pixels) and requests any uncovered pages.
func (s *Session) Scroll(scrollOffset, viewportHeight int64) {
	s.post(func() {
		total := s.store.Total()
		calcTotal := total
		if calcTotal <= 0 {
			// Total unknown until the first fetch resolves; cover whatever
			// the viewport asks for.
			calcTotal = math.MaxInt64
		}
		w := Visible(calcTotal, scrollOffset, viewportHeight, s.opts.RowHeight, s.opts.Overscan)
		s.fetcher.EnsureCovered(s.ctx, w, total)
	})
}

func (s *Session) handlePage(res PageResult) {
	if !s.fetcher.Complete(res) {
		return
	}
	offset := grid.PageStart(res.Page, s.fetcher.PageSize())
	s.store.FillPage(offset, res.Rows, res.Total)
}

func (s *Session) handleWrite(res WriteResult) {
	s.applier.HandleResult(res)
}

func (s *Session) handleRow(row Row) {
	s.store.Reconcile(row)
}

// Row returns the row at position pos, if loaded.
func (s *Session) Row(pos int64) (Row, bool) {
	var row Row
	var ok bool
	s.do(func() { row, ok = s.store.Get(pos) })
	return row, ok
}

// LoadedCount returns the number of loaded positions.
func (s *Session) LoadedCount() int {
	var n int
	s.do(func() { n = s.store.LoadedCount() })
	return n
}

// Total returns the authoritative row count from the most recent fetch.
func (s *Session) Total() int64 {
	var n int64
	s.do(func() { n = s.store.Total() })
	return n
}

// BeginEdit starts editing the cell at (pos, field).
func (s *Session) BeginEdit(pos int64, field string) bool {
	var ok bool
	s.do(func() { ok = s.applier.Begin(pos, field) })
	return ok
}

// SetDraft replaces the draft of an in-progress edit.
func (s *Session) SetDraft(pos int64, field, value string) bool {
	var ok bool
	s.do(func() { ok = s.applier.SetDraft(pos, field, value) })
	return ok
}

// CancelEdit discards an in-progress edit.
func (s *Session) CancelEdit(pos int64, field string) bool {
	var ok bool
	s.do(func() { ok = s.applier.Cancel(pos, field) })
	return ok
}

// CommitEdit applies the draft optimistically and dispatches the
// authoritative write. The call returns as soon as the local apply is done;
// the write settles in the background.
func (s *Session) CommitEdit(pos int64, field string) bool {
	var ok bool
	s.do(func() { ok = s.applier.Commit(s.ctx, pos, field) })
	return ok
}

// EditState returns the edit state of the cell at (pos, field).
func (s *Session) EditState(pos int64, field string) EditState {
	var state EditState
	s.do(func() { state = s.applier.State(pos, field) })
	return state
}

// CheckConsistency verifies the store's identity/position invariant.
func (s *Session) CheckConsistency() error {
	var err error
	if !s.do(func() { err = s.store.CheckConsistency() }) {
		return nil
	}
	return err
}

// Close tears down the session: the subscription is cancelled, in-flight
// fetches are abandoned, and the event loop stops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.cancel()
		<-s.done
		slog.Debug("Viewer session closed", "session", s.id)
	})
}
