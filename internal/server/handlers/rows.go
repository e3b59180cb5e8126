// Package handlers implements the HTTP API handlers for the grid.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/livegrid/livegrid/internal/grid"
	"github.com/livegrid/livegrid/internal/relay"
	"github.com/livegrid/livegrid/internal/server/apierrors"
	"github.com/livegrid/livegrid/internal/store"
)

// RowHandler handles row read and write HTTP requests.
type RowHandler struct {
	table    *store.Table
	relay    relay.Relay
	maxLimit int64
}

// NewRowHandler creates a new row handler.
func NewRowHandler(table *store.Table, rl relay.Relay, maxLimit int64) *RowHandler {
	if maxLimit <= 0 || maxLimit > grid.MaxPageLimit {
		maxLimit = grid.MaxPageLimit
	}
	return &RowHandler{table: table, relay: rl, maxLimit: maxLimit}
}

// ListRowsRequest is a request for one page of rows.
type ListRowsRequest struct {
	Offset int64 `query:"offset"`
	Limit  int64 `query:"limit"`
}

// ListRowsResponse carries the rows plus a snapshot of the total row count.
type ListRowsResponse struct {
	Rows  []grid.Row `json:"rows"`
	Total int64      `json:"total"`
}

// ListRows returns up to Limit rows starting at Offset, ascending identity.
func (h *RowHandler) ListRows(ctx context.Context, req ListRowsRequest) (*ListRowsResponse, error) {
	if req.Offset < 0 {
		return nil, apierrors.InvalidFormat("offset", "must be non-negative")
	}
	limit := req.Limit
	if limit <= 0 || limit > h.maxLimit {
		limit = h.maxLimit
	}
	rows, total, err := h.table.ReadPage(req.Offset, limit)
	if err != nil {
		return nil, apierrors.InternalWithError("Failed to read rows", err)
	}
	if rows == nil {
		rows = []grid.Row{}
	}
	return &ListRowsResponse{Rows: rows, Total: total}, nil
}

// PatchRowRequest is a request to update one or more fields of a row.
type PatchRowRequest struct {
	ID     string            `path:"id"`
	Fields map[string]string `json:"fields"`
	Clocks map[string]uint64 `json:"clocks,omitempty"`
}

// PatchRowResponse carries the full row after the write.
type PatchRowResponse struct {
	Row grid.Row `json:"row"`
}

// PatchRow applies a last-writer-wins field patch and broadcasts the
// resulting full row to all viewer sessions. The broadcast is best effort:
// the write succeeds regardless of fan-out reachability.
func (h *RowHandler) PatchRow(ctx context.Context, req PatchRowRequest) (*PatchRowResponse, error) {
	id, err := parseRowID(req.ID)
	if err != nil {
		return nil, err
	}
	if len(req.Fields) == 0 {
		return nil, apierrors.MissingField("fields")
	}

	row, err := h.table.Patch(id, req.Fields, req.Clocks)
	if err != nil {
		if errors.Is(err, store.ErrRowNotFound) {
			return nil, apierrors.RowNotFound(req.ID)
		}
		return nil, apierrors.InternalWithError("Failed to patch row", err)
	}

	if err := h.relay.Publish(ctx, row); err != nil {
		slog.ErrorContext(ctx, "Failed to broadcast row update", "id", row.ID, "err", err)
	}
	return &PatchRowResponse{Row: row}, nil
}

// AppendRowRequest is a request to append a new row.
type AppendRowRequest struct {
	Fields map[string]string `json:"fields"`
}

// AppendRowResponse carries the stored row with its assigned identity.
type AppendRowResponse struct {
	Row grid.Row `json:"row"`
}

// AppendRow appends a new row with the next identity.
func (h *RowHandler) AppendRow(ctx context.Context, req AppendRowRequest) (*AppendRowResponse, error) {
	row, err := h.table.Append(req.Fields)
	if err != nil {
		return nil, apierrors.InternalWithError("Failed to append row", err)
	}
	return &AppendRowResponse{Row: row}, nil
}

func parseRowID(s string) (grid.ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, apierrors.InvalidFormat("id", "must be a positive integer")
	}
	return grid.ID(n), nil
}
