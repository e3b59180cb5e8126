package grid

// DefaultPageSize is the number of rows fetched per page unless configured
// otherwise.
const DefaultPageSize = 150

// MaxPageLimit caps the limit accepted by a row read request.
const MaxPageLimit = 1000

// PageFor returns the page index covering position pos for the given page
// size. A page is the half-open position range [p*size, (p+1)*size).
func PageFor(pos, size int64) int64 {
	if pos < 0 {
		return 0
	}
	return pos / size
}

// PageStart returns the first position of page p.
func PageStart(p, size int64) int64 {
	return p * size
}

// PagesSpanning returns the inclusive page index range [first, last] whose
// position ranges intersect [lo, hi]. lo and hi are clamped at zero; if
// hi < lo the range collapses to the single page covering lo.
func PagesSpanning(lo, hi, size int64) (first, last int64) {
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	return lo / size, hi / size
}
