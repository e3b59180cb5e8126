package viewer

// DefaultOverscan is the margin of positions instantiated on each side of
// the visible range to hide fetch latency while scrolling.
const DefaultOverscan = 20

// Window is an inclusive range of row positions that must be instantiated.
type Window struct {
	Lo, Hi int64
}

// Empty reports whether the window contains no positions.
func (w Window) Empty() bool {
	return w.Hi < w.Lo
}

// Visible maps a scroll state to the window of positions to instantiate:
// the rows intersecting the viewport plus a symmetric overscan margin,
// clamped to [0, total). It is a pure function of its inputs, so it can be
// re-invoked on every scroll event without accumulating error.
func Visible(total, scrollOffset, viewportHeight, rowHeight, overscan int64) Window {
	if total <= 0 || viewportHeight <= 0 || rowHeight <= 0 {
		return Window{Lo: 0, Hi: -1}
	}
	if scrollOffset < 0 {
		scrollOffset = 0
	}
	if overscan < 0 {
		overscan = 0
	}

	first := scrollOffset / rowHeight
	// Rows straddling the viewport edges count as visible.
	last := (scrollOffset + viewportHeight - 1) / rowHeight

	lo := first - overscan
	if lo < 0 {
		lo = 0
	}
	hi := last + overscan
	if hi > total-1 {
		hi = total - 1
	}
	if lo > total-1 {
		lo = total - 1
	}
	return Window{Lo: lo, Hi: hi}
}
