package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/livegrid/livegrid/internal/grid"
)

// Client talks to a livegrid server: paginated reads and field patches over
// HTTP, broadcast rows over the session websocket. It implements PageReader,
// RowWriter and Subscriber.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewClient creates a client for the server at baseURL (e.g.
// "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		dialer:  websocket.DefaultDialer,
	}
}

type listRowsResponse struct {
	Rows  []grid.Row `json:"rows"`
	Total int64      `json:"total"`
}

// ReadPage implements PageReader via GET /api/rows.
func (c *Client) ReadPage(ctx context.Context, offset, limit int64) ([]Row, int64, error) {
	u := fmt.Sprintf("%s/api/rows?offset=%d&limit=%d", c.baseURL, offset, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	var out listRowsResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, 0, fmt.Errorf("read page at offset %d: %w", offset, err)
	}
	return out.Rows, out.Total, nil
}

type patchRowRequest struct {
	Fields map[string]string `json:"fields"`
	Clocks map[string]uint64 `json:"clocks,omitempty"`
}

type patchRowResponse struct {
	Row grid.Row `json:"row"`
}

// WriteRow implements RowWriter via PATCH /api/rows/{id}.
func (c *Client) WriteRow(ctx context.Context, id ID, fields map[string]string, clocks map[string]uint64) (Row, error) {
	body, err := json.Marshal(patchRowRequest{Fields: fields, Clocks: clocks})
	if err != nil {
		return Row{}, err
	}
	u := fmt.Sprintf("%s/api/rows/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return Row{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out patchRowResponse
	if err := c.doJSON(req, &out); err != nil {
		return Row{}, fmt.Errorf("write row %d: %w", id, err)
	}
	return out.Row, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type rowMessage struct {
	Type string    `json:"type"`
	Row  *grid.Row `json:"row"`
}

// Subscribe implements Subscriber: it dials the session websocket and
// invokes fn for every broadcast row until cancel is called or ctx is done.
func (c *Client) Subscribe(ctx context.Context, fn func(Row)) (func(), error) {
	wsURL, err := toWebsocketURL(c.baseURL + "/api/subscribe")
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	go func() {
		defer conn.Close()
		for {
			var msg rowMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "row" && msg.Row != nil {
				fn(*msg.Row)
			}
		}
	}()

	return func() {
		stop()
		_ = conn.Close()
	}, nil
}

func toWebsocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
