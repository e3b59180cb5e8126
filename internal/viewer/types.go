package viewer

import (
	"context"

	"github.com/livegrid/livegrid/internal/grid"
)

// Row and ID alias the shared grid types; the viewer engine reads and writes
// the same rows the server broadcasts.
type (
	Row = grid.Row
	ID  = grid.ID
)

// PageReader is the backing-store read primitive consumed by the fetch
// coordinator.
type PageReader interface {
	// ReadPage returns up to limit rows starting at offset in ascending
	// identity order, plus the total row count at the time of the read.
	ReadPage(ctx context.Context, offset, limit int64) ([]Row, int64, error)
}

// RowWriter is the backing-store write primitive consumed by the optimistic
// mutation applier.
type RowWriter interface {
	// WriteRow patches the given fields of one row and returns the full
	// updated row reflecting all fields after the write.
	WriteRow(ctx context.Context, id ID, fields map[string]string, clocks map[string]uint64) (Row, error)
}

// Subscriber delivers broadcast row updates to a session for its lifetime.
type Subscriber interface {
	// Subscribe invokes fn for every broadcast row until cancel is called or
	// ctx is done.
	Subscribe(ctx context.Context, fn func(Row)) (cancel func(), err error)
}
