package viewer

import (
	"context"
	"log/slog"
	"time"

	"github.com/livegrid/livegrid/internal/grid"
)

// DefaultFetchTimeout bounds a single page request. A request still pending
// past the timeout releases its in-flight marker so the page can be
// refetched; the late response, if it ever arrives, is discarded.
const DefaultFetchTimeout = 30 * time.Second

// PageResult is the completion of one page fetch, delivered back to the
// session loop. Gen identifies the request that produced it, so a response
// from a request already given up on cannot settle its replacement.
type PageResult struct {
	Page  int64
	Gen   uint64
	Rows  []Row
	Total int64
	Err   error
}

// pageRequest is one outstanding fetch in the in-flight ledger.
type pageRequest struct {
	gen     uint64
	started time.Time
}

// Fetcher is the page fetch coordinator: it decides which pages must be
// requested to cover a position range and guarantees at most one outstanding
// request per page index within the session.
//
// The ledger keeps two disjoint page-index sets: fetched (completed, never
// refetched this session) and in-flight (response pending). A failed fetch
// releases its page from in-flight without adding it to fetched, so the next
// viewport pass covering that page retries it; the fetcher itself never
// retries.
//
// Not safe for concurrent use; owned by the session loop. Fetch I/O runs
// concurrently, but completions must be fed back through Complete on the
// loop.
type Fetcher struct {
	reader   PageReader
	pageSize int64
	timeout  time.Duration
	emit     func(PageResult)

	fetched  map[int64]struct{}
	inflight map[int64]pageRequest
	gen      uint64
	now      func() time.Time
}

// NewFetcher creates a Fetcher reading pages of pageSize rows through
// reader. Completions are passed to emit, which must hand them to the
// session loop (or apply them directly in tests).
func NewFetcher(reader PageReader, pageSize int64, emit func(PageResult)) *Fetcher {
	if pageSize <= 0 {
		pageSize = grid.DefaultPageSize
	}
	return &Fetcher{
		reader:   reader,
		pageSize: pageSize,
		timeout:  DefaultFetchTimeout,
		emit:     emit,
		fetched:  make(map[int64]struct{}),
		inflight: make(map[int64]pageRequest),
		now:      time.Now,
	}
}

// PageSize returns the configured page size.
func (f *Fetcher) PageSize() int64 {
	return f.pageSize
}

// EnsureCovered requests every page intersecting the position range
// [w.Lo, w.Hi], widened by one page on each side to mask fetch latency
// during scroll. The widening is clamped to pages known to exist from the
// total row count; pass total <= 0 while the count is still unknown to
// request only the pages the viewport demands. Pages already fetched or in
// flight are skipped. Requests are issued concurrently; each completion
// must be applied via Complete.
func (f *Fetcher) EnsureCovered(ctx context.Context, w Window, total int64) {
	if w.Empty() {
		return
	}
	first, last := grid.PagesSpanning(w.Lo, w.Hi, f.pageSize)
	if first > 0 {
		first--
	}
	if total > 0 {
		if lastPage := (total - 1) / f.pageSize; last < lastPage {
			last++
		} else if last > lastPage {
			last = lastPage
		}
	}

	for p := first; p <= last; p++ {
		if _, ok := f.fetched[p]; ok {
			continue
		}
		if req, ok := f.inflight[p]; ok {
			if f.now().Sub(req.started) < f.timeout {
				continue
			}
			// Hung request: supersede it. Its response, if it ever arrives,
			// carries a stale generation and is discarded by Complete.
			slog.Warn("Releasing hung page fetch", "page", p)
		}
		f.gen++
		f.inflight[p] = pageRequest{gen: f.gen, started: f.now()}
		go f.fetch(ctx, p, f.gen)
	}
}

func (f *Fetcher) fetch(ctx context.Context, page int64, gen uint64) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	offset := grid.PageStart(page, f.pageSize)
	rows, total, err := f.reader.ReadPage(ctx, offset, f.pageSize)
	f.emit(PageResult{Page: page, Gen: gen, Rows: rows, Total: total, Err: err})
}

// Complete settles a page fetch on the session loop. On success the page
// moves from in-flight to fetched and the caller should fill the store; on
// failure the page is released for a later viewport pass to retry. It
// returns false for stale completions — responses from a request that was
// superseded after hanging, or for a page no longer in flight — whose rows
// must not be applied.
func (f *Fetcher) Complete(res PageResult) bool {
	req, ok := f.inflight[res.Page]
	if !ok || req.gen != res.Gen {
		return false
	}
	delete(f.inflight, res.Page)
	if res.Err != nil {
		slog.Warn("Page fetch failed", "page", res.Page, "err", res.Err)
		return false
	}
	f.fetched[res.Page] = struct{}{}
	return true
}

// InFlight reports whether a request for page p is outstanding.
func (f *Fetcher) InFlight(p int64) bool {
	_, ok := f.inflight[p]
	return ok
}

// InFlightCount returns the number of outstanding page requests.
func (f *Fetcher) InFlightCount() int {
	return len(f.inflight)
}

// Fetched reports whether page p completed successfully this session.
func (f *Fetcher) Fetched(p int64) bool {
	_, ok := f.fetched[p]
	return ok
}
