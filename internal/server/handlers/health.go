package handlers

import (
	"context"

	"github.com/livegrid/livegrid/internal/store"
)

// HealthHandler reports server liveness.
type HealthHandler struct {
	table *store.Table
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(table *store.Table) *HealthHandler {
	return &HealthHandler{table: table}
}

// HealthRequest is the request type for health check (empty).
type HealthRequest struct{}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status string `json:"status"`
	Rows   int    `json:"rows"`
}

// Health returns the health status of the server.
func (h *HealthHandler) Health(ctx context.Context, req HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Rows: h.table.Len()}, nil
}
