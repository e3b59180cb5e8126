// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/livegrid/livegrid/internal/config"
	"github.com/livegrid/livegrid/internal/relay"
	"github.com/livegrid/livegrid/internal/server/handlers"
	"github.com/livegrid/livegrid/internal/store"
)

// NewRouter creates and configures the HTTP router.
//
// hub may be nil when this process does not host the shared relay hub.
func NewRouter(cfg config.Config, table *store.Table, layout *store.Layout, rl relay.Relay, hub *relay.Hub) http.Handler {
	mux := http.NewServeMux()

	rowHandler := handlers.NewRowHandler(table, rl, cfg.MaxLimit)
	layoutHandler := handlers.NewLayoutHandler(layout)
	healthHandler := handlers.NewHealthHandler(table)
	limiter := newWriteLimiter(cfg.WriteRPS, cfg.WriteBurst)

	// Health check
	mux.Handle("GET /api/health", Wrap(healthHandler.Health))

	// Rows endpoints
	mux.Handle("GET /api/rows", Wrap(rowHandler.ListRows))
	mux.Handle("PATCH /api/rows/{id}", limiter.limit(Wrap(rowHandler.PatchRow)))
	mux.Handle("POST /api/rows", limiter.limit(Wrap(rowHandler.AppendRow)))

	// Column layout endpoints
	mux.Handle("GET /api/layout", Wrap(layoutHandler.GetLayout))
	mux.Handle("PUT /api/layout", Wrap(layoutHandler.PutLayout))

	// Viewer session websocket
	mux.Handle("GET /api/subscribe", NewSessionHandler(rl))

	// Relay hub peer endpoint, when this process hosts the shared channel
	if hub != nil {
		mux.Handle("GET /api/relay", hub)
	}

	return mux
}
