package viewer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeReader serves pages from a synthetic table of tableTotal rows and
// records every requested offset. block, when non-nil, is waited on before
// responding.
type fakeReader struct {
	tableTotal int64
	err        error
	block      chan struct{}

	mu      sync.Mutex
	offsets []int64
}

func (r *fakeReader) ReadPage(ctx context.Context, offset, limit int64) ([]Row, int64, error) {
	r.mu.Lock()
	r.offsets = append(r.offsets, offset)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	end := offset + limit
	if end > r.tableTotal {
		end = r.tableTotal
	}
	var rows []Row
	for pos := offset; pos < end; pos++ {
		rows = append(rows, makeRow(ID(pos+1), "Open", 0))
	}
	return rows, r.tableTotal, nil
}

func (r *fakeReader) requested() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]int64(nil), r.offsets...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// collectResults waits for n completions from ch.
func collectResults(t *testing.T, ch <-chan PageResult, n int) []PageResult {
	t.Helper()
	var out []PageResult
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case res := <-ch:
			out = append(out, res)
		case <-deadline:
			t.Fatalf("timed out after %d of %d completions", len(out), n)
		}
	}
	return out
}

func newTestFetcher(reader PageReader) (*Fetcher, chan PageResult) {
	results := make(chan PageResult, 16)
	f := NewFetcher(reader, 150, func(res PageResult) { results <- res })
	return f, results
}

func TestFetcherInitialViewportSinglePage(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000}
	f, results := newTestFetcher(reader)

	// First pass: the total is still unknown, so exactly the page holding
	// the viewport is requested.
	f.EnsureCovered(context.Background(), Window{Lo: 0, Hi: 49}, 0)
	res := collectResults(t, results, 1)[0]
	if res.Page != 0 || res.Err != nil {
		t.Fatalf("completion = %+v, want page 0 without error", res)
	}
	if got := reader.requested(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("requested offsets = %v, want exactly [0]", got)
	}
	if !f.Complete(res) {
		t.Fatalf("Complete rejected a live completion")
	}
	if !f.Fetched(0) || f.InFlightCount() != 0 {
		t.Fatalf("ledger after completion: fetched(0)=%v inflight=%d", f.Fetched(0), f.InFlightCount())
	}
}

func TestFetcherViewportStraddlingPages(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000}
	f, results := newTestFetcher(reader)

	// Positions 140-160 span the page boundary at 150.
	f.EnsureCovered(context.Background(), Window{Lo: 140, Hi: 160}, 0)
	for _, res := range collectResults(t, results, 2) {
		f.Complete(res)
	}
	if got := reader.requested(); len(got) != 2 || got[0] != 0 || got[1] != 150 {
		t.Fatalf("requested offsets = %v, want [0 150]", got)
	}
}

func TestFetcherWidensOnceTotalKnown(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000}
	f, results := newTestFetcher(reader)

	// Mid-table window on page 6, with the total known: one page of margin
	// is requested on each side.
	f.EnsureCovered(context.Background(), Window{Lo: 980, Hi: 1049}, 100000)
	for _, res := range collectResults(t, results, 3) {
		f.Complete(res)
	}
	if got := reader.requested(); len(got) != 3 || got[0] != 750 || got[1] != 900 || got[2] != 1050 {
		t.Fatalf("requested offsets = %v, want [750 900 1050]", got)
	}
}

func TestFetcherWideningClampedAtTableEnd(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000}
	f, results := newTestFetcher(reader)

	f.EnsureCovered(context.Background(), Window{Lo: 99980, Hi: 99999}, 100000)
	for _, res := range collectResults(t, results, 2) {
		f.Complete(res)
	}
	// The last page is 666; no request beyond it.
	if got := reader.requested(); len(got) != 2 || got[0] != 99750 || got[1] != 99900 {
		t.Fatalf("requested offsets = %v, want [99750 99900]", got)
	}
}

func TestFetcherAtMostOneRequestPerPage(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000, block: make(chan struct{})}
	f, results := newTestFetcher(reader)
	ctx := context.Background()

	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	// Rapid repeated scrolls over the same range while the fetch is pending.
	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	f.EnsureCovered(ctx, Window{Lo: 10, Hi: 60}, 0)

	if f.InFlightCount() != 1 {
		t.Fatalf("InFlightCount() = %d, want 1", f.InFlightCount())
	}
	close(reader.block)
	res := collectResults(t, results, 1)[0]
	f.Complete(res)
	if got := reader.requested(); len(got) != 1 {
		t.Fatalf("requested offsets = %v, want a single request", got)
	}

	// Once fetched, the page is never requested again this session.
	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	if f.InFlightCount() != 0 {
		t.Fatalf("fetched page was requested again")
	}
}

func TestFetcherFailureReleasesPageForRetry(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000, err: errors.New("boom")}
	f, results := newTestFetcher(reader)
	ctx := context.Background()

	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	res := collectResults(t, results, 1)[0]
	if res.Err == nil {
		t.Fatalf("expected a failed completion")
	}
	if f.Complete(res) {
		t.Fatalf("Complete reported success for a failed fetch")
	}
	if f.Fetched(0) || f.InFlight(0) {
		t.Fatalf("failed page must be released, not recorded: fetched=%v inflight=%v", f.Fetched(0), f.InFlight(0))
	}

	// The fetcher does not retry on its own; the next covering pass does.
	reader.err = nil
	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	res = collectResults(t, results, 1)[0]
	if !f.Complete(res) {
		t.Fatalf("retry completion rejected")
	}
	if !f.Fetched(0) {
		t.Fatalf("page not recorded as fetched after retry")
	}
}

func TestFetcherHungRequestSupersededByGeneration(t *testing.T) {
	reader := &fakeReader{tableTotal: 100000}
	f, results := newTestFetcher(reader)
	ctx := context.Background()

	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	first := collectResults(t, results, 1)[0]

	// Pretend the request has been pending past the timeout; the next pass
	// supersedes it with a fresh request for the same page.
	req := f.inflight[0]
	req.started = time.Now().Add(-2 * DefaultFetchTimeout)
	f.inflight[0] = req
	f.EnsureCovered(ctx, Window{Lo: 0, Hi: 49}, 0)
	second := collectResults(t, results, 1)[0]

	// Whichever response arrives first, only the replacement request's may
	// settle the page; the superseded one is discarded.
	stale, fresh := first, second
	if stale.Gen > fresh.Gen {
		stale, fresh = fresh, stale
	}
	if f.Complete(stale) {
		t.Fatalf("superseded completion was applied")
	}
	if !f.Complete(fresh) {
		t.Fatalf("replacement completion rejected")
	}
	if !f.Fetched(0) {
		t.Fatalf("page not recorded as fetched")
	}
	// And the late stale response after settlement is still a no-op.
	if f.Complete(stale) {
		t.Fatalf("stale completion was applied after settlement")
	}
}
