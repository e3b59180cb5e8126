package relay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// peerSendBuffer bounds the per-peer outbound queue. A peer that cannot keep
// up is disconnected rather than blocking the hub.
const peerSendBuffer = 256

// Hub is the server side of the shared broadcast channel. Every server
// process connects to one hub; each frame received from any peer is
// rebroadcast verbatim to all connected peers, the sender included.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*hubPeer]struct{}
}

type hubPeer struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are trusted server processes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*hubPeer]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket peer connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Relay hub upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	p := &hubPeer{conn: conn, send: make(chan []byte, peerSendBuffer)}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	slog.Info("Relay peer connected", "remote", r.RemoteAddr, "peers", n)

	go p.writeLoop()
	h.readLoop(p)

	h.mu.Lock()
	delete(h.peers, p)
	n = len(h.peers)
	h.mu.Unlock()
	close(p.send)
	_ = conn.Close()
	slog.Info("Relay peer disconnected", "remote", r.RemoteAddr, "peers", n)
}

// readLoop rebroadcasts every frame from p to all peers, including p itself.
func (h *Hub) readLoop(p *hubPeer) {
	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		h.mu.Lock()
		for peer := range h.peers {
			select {
			case peer.send <- msg:
			default:
				// Queue full: the peer reconnects and is caught up by the
				// next write touching any row it cares about.
				slog.Warn("Relay peer send queue full, dropping peer")
				_ = peer.conn.Close()
			}
		}
		h.mu.Unlock()
	}
}

func (p *hubPeer) writeLoop() {
	for msg := range p.send {
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			_ = p.conn.Close()
			// Drain so the hub's close of the channel never blocks.
			for range p.send {
			}
			return
		}
	}
}
