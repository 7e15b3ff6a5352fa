package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/t-hamamura/market-research-system/internal/engine"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans the engine's event bus out to WebSocket clients. Every client
// sees the events of every run; clients filter on their side.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	events  chan engine.ProgressEvent
	log     *zap.Logger
}

// NewHub subscribes to the bus and returns a hub ready to Run.
func NewHub(bus *engine.EventBus, log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		events:  bus.Subscribe(),
		log:     log,
	}
}

// Run broadcasts bus events to all connected clients until the bus channel
// closes.
func (h *Hub) Run() {
	for ev := range h.events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}

		h.mu.Lock()
		for conn := range h.clients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// HandleWebSocket upgrades HTTP connections to WebSocket.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Clients do not send commands; reading only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
