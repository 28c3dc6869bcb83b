package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the router; the stream is public market data
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Stream fans price ticks out to connected websocket clients.
type Stream struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{clients: make(map[*wsClient]struct{})}
}

// broadcast sends a payload to every client, dropping clients whose
// connection has gone away.
func (s *Stream) broadcast(data []byte) {
	s.mu.RLock()
	var dead []*wsClient
	for client := range s.clients {
		if err := client.write(data); err != nil {
			dead = append(dead, client)
		}
	}
	s.mu.RUnlock()

	if len(dead) > 0 {
		s.mu.Lock()
		for _, client := range dead {
			delete(s.clients, client)
			client.conn.Close()
		}
		s.mu.Unlock()
	}
}

// ServeWS upgrades the connection and streams market ticks to it. The
// initial message carries the retained price history so charts render
// immediately.
func (h *Handler) ServeWS(stream *Stream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.Log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		initial, err := json.Marshal(map[string]interface{}{
			"symbol":  h.Symbol,
			"open":    h.Feed.IsOpen(),
			"price":   h.Feed.CurrentPrice().Round(2),
			"history": h.Feed.History(),
		})
		if err == nil {
			conn.WriteMessage(websocket.TextMessage, initial)
		}

		client := &wsClient{conn: conn}
		stream.mu.Lock()
		stream.clients[client] = struct{}{}
		stream.mu.Unlock()

		// Block until the peer disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stream.mu.Lock()
				delete(stream.clients, client)
				stream.mu.Unlock()
				conn.Close()
				return
			}
		}
	}
}

// RunTicks is the tick pipeline: each feed tick is delivered to every
// trading session, fills are mirrored to the durable store, and the tick is
// pushed to websocket clients. One tick is fully processed before the next.
func (h *Handler) RunTicks(ctx context.Context, stream *Stream) {
	ticks, cancel := h.Feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticks:
			fills := h.Hub.Broadcast(tick.Price)
			for uid, trades := range fills {
				h.syncFills(uid, trades)
			}

			payload, err := json.Marshal(map[string]interface{}{
				"symbol": h.Symbol,
				"open":   h.Feed.IsOpen(),
				"price":  tick.Price.Round(2),
				"volume": tick.Volume,
				"at":     tick.At,
			})
			if err != nil {
				h.Log.Error().Err(err).Msg("failed to marshal tick")
				continue
			}
			stream.broadcast(payload)
		}
	}
}
