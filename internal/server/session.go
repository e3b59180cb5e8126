package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/livegrid/livegrid/internal/grid"
	"github.com/livegrid/livegrid/internal/relay"
)

const (
	// sessionSendBuffer bounds the per-session outbound queue. A viewer that
	// cannot keep up is disconnected rather than blocking the relay.
	sessionSendBuffer = 256

	sessionPingInterval = 30 * time.Second
	sessionPongWait     = 60 * time.Second
	sessionWriteWait    = 10 * time.Second
)

// RowMessage is a frame sent to a viewer session over the websocket.
type RowMessage struct {
	Type string    `json:"type"`
	Row  *grid.Row `json:"row,omitempty"`
}

var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewSessionHandler returns the handler for the viewer session websocket.
// Each connection is subscribed to the relay for its lifetime and receives
// every broadcast row as a {"type":"row"} frame. The server holds no other
// per-viewer state.
func NewSessionHandler(rl relay.Relay) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := sessionUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("Session upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		id := ulid.Make().String()
		slog.Info("Viewer session opened", "session", id, "remote", r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		send := make(chan grid.Row, sessionSendBuffer)
		overflow := make(chan struct{}, 1)
		unsubscribe := rl.Subscribe(func(row grid.Row) {
			select {
			case send <- row:
			default:
				select {
				case overflow <- struct{}{}:
				default:
				}
			}
		})
		defer unsubscribe()

		// Read loop: the client sends nothing meaningful; this consumes
		// control frames and detects disconnect.
		go func() {
			defer cancel()
			_ = conn.SetReadDeadline(time.Now().Add(sessionPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(sessionPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(sessionPingInterval)
		defer ticker.Stop()
		defer func() {
			_ = conn.Close()
			slog.Info("Viewer session closed", "session", id)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-overflow:
				slog.Warn("Viewer session too slow, disconnecting", "session", id)
				return
			case row := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
				if err := conn.WriteJSON(RowMessage{Type: "row", Row: &row}); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
