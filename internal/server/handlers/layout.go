package handlers

import (
	"context"

	"github.com/livegrid/livegrid/internal/grid"
	"github.com/livegrid/livegrid/internal/server/apierrors"
	"github.com/livegrid/livegrid/internal/store"
)

// LayoutHandler handles column layout persistence requests.
type LayoutHandler struct {
	layout *store.Layout
}

// NewLayoutHandler creates a new layout handler.
func NewLayoutHandler(layout *store.Layout) *LayoutHandler {
	return &LayoutHandler{layout: layout}
}

// GetLayoutRequest is a request for the current column layout.
type GetLayoutRequest struct{}

// GetLayoutResponse carries the column layout.
type GetLayoutResponse struct {
	Columns []grid.Column `json:"columns"`
}

// GetLayout returns the persisted column layout.
func (h *LayoutHandler) GetLayout(ctx context.Context, req GetLayoutRequest) (*GetLayoutResponse, error) {
	schema, ok := h.layout.Get()
	if !ok {
		return nil, apierrors.NotFound("layout")
	}
	return &GetLayoutResponse{Columns: schema.Columns}, nil
}

// PutLayoutRequest is a request to replace the column layout.
type PutLayoutRequest struct {
	Columns []grid.Column `json:"columns"`
}

// PutLayoutResponse is a response from replacing the layout.
type PutLayoutResponse struct {
	Columns []grid.Column `json:"columns"`
}

// PutLayout validates and persists a new column layout.
func (h *LayoutHandler) PutLayout(ctx context.Context, req PutLayoutRequest) (*PutLayoutResponse, error) {
	schema := &grid.Schema{Columns: req.Columns}
	if err := schema.Validate(); err != nil {
		return nil, apierrors.BadRequest(err.Error())
	}
	if err := h.layout.Save(schema); err != nil {
		return nil, apierrors.InternalWithError("Failed to save layout", err)
	}
	return &PutLayoutResponse{Columns: schema.Columns}, nil
}
