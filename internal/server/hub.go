package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"multistack/internal/pipeline"
)

const writeWait = 5 * time.Second

// hub fans pipeline updates out to websocket clients. Only run writes to
// connections.
type hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:        log,
		upgrader:   websocket.Upgrader{}, // default CheckOrigin rejects cross-origin requests
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context, updates <-chan pipeline.Update) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			c.Close()
			delete(h.clients, c)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("websocket client connected", "clients", len(h.clients))
			h.write(c, []byte(`{"type":"hello"}`))
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				c.Close()
				h.log.Debug("websocket client disconnected", "clients", len(h.clients))
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			msg, err := json.Marshal(u)
			if err != nil {
				h.log.Warn("failed to encode update", "error", err)
				continue
			}
			for c := range h.clients {
				h.write(c, msg)
			}
		}
	}
}

func (h *hub) write(c *websocket.Conn, msg []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		delete(h.clients, c)
		c.Close()
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()
}
