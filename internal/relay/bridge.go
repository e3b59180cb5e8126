package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livegrid/livegrid/internal/grid"
)

// reconnectBase is the initial reconnect delay; doubled up to reconnectMax.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// HubBridge is a Relay that fans out both process-locally and across
// processes through a shared hub.
//
// Publish always delivers to the local bus first; the hub forward is best
// effort. If the hub is unreachable the relay degrades to process-local-only
// delivery and the write still succeeds. Rows arriving from the hub are
// republished on the local bus, so subscribers may see a row twice (once
// locally, once as the hub echo); replace-by-identity makes that safe.
type HubBridge struct {
	bus *Bus
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewHubBridge creates a bridge on top of bus, connecting to the hub
// websocket endpoint at url. Run must be started for cross-process delivery.
func NewHubBridge(bus *Bus, url string) *HubBridge {
	return &HubBridge{bus: bus, url: url}
}

// Publish delivers the row locally, then forwards it to the hub.
func (b *HubBridge) Publish(ctx context.Context, row grid.Row) error {
	if err := b.bus.Publish(ctx, row); err != nil {
		return err
	}

	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	b.mu.Lock()
	conn := b.conn
	var werr error
	if conn != nil {
		werr = conn.WriteMessage(websocket.TextMessage, data)
	}
	b.mu.Unlock()
	if conn == nil {
		slog.Warn("Relay hub not connected, delivered locally only", "id", row.ID)
	} else if werr != nil {
		slog.Warn("Relay hub forward failed, delivered locally only", "id", row.ID, "err", werr)
	}
	return nil
}

// Subscribe registers fn on the local bus.
func (b *HubBridge) Subscribe(fn func(grid.Row)) func() {
	return b.bus.Subscribe(fn)
}

// Run maintains the hub connection until ctx is cancelled, republishing
// every frame received from the hub onto the local bus. Reconnects with
// exponential backoff.
func (b *HubBridge) Run(ctx context.Context) {
	delay := reconnectBase
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
		if err != nil {
			slog.Warn("Relay hub dial failed", "url", b.url, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > reconnectMax {
				delay = reconnectMax
			}
			continue
		}
		slog.Info("Relay hub connected", "url", b.url)
		delay = reconnectBase

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		b.readLoop(ctx, conn)
		stop()

		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		_ = conn.Close()
	}
}

func (b *HubBridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Relay hub connection lost", "err", err)
			}
			return
		}
		var row grid.Row
		if err := json.Unmarshal(msg, &row); err != nil {
			slog.Warn("Relay hub sent malformed frame", "err", err)
			continue
		}
		if err := b.bus.Publish(ctx, row); err != nil {
			slog.Warn("Failed to republish hub row", "id", row.ID, "err", err)
		}
	}
}
