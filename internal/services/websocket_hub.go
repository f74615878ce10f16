package services

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketHub fans broadcast payloads out to UI clients subscribed by topic.
// Writes are best-effort: a dead connection is dropped, never retried.
type WebSocketHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]map[string]bool // conn -> subscribed topics
}

// NewWebSocketHub creates an empty hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients: make(map[*websocket.Conn]map[string]bool),
	}
}

// Register adds a connection with no subscriptions yet
func (h *WebSocketHub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = make(map[string]bool)
}

// Subscribe adds a topic to a connection's subscription set
func (h *WebSocketHub) Subscribe(conn *websocket.Conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if topics, ok := h.clients[conn]; ok {
		topics[topic] = true
	}
}

// Unregister removes and closes a connection
func (h *WebSocketHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Publish writes the payload to every connection subscribed to the topic
func (h *WebSocketHub) Publish(topic string, payload interface{}) {
	message, err := json.Marshal(map[string]interface{}{
		"topic": topic,
		"data":  payload,
	})
	if err != nil {
		log.Printf("⚠️ [Hub] Failed to marshal payload for %s: %v", topic, err)
		return
	}

	h.mu.RLock()
	var dead []*websocket.Conn
	for conn, topics := range h.clients {
		if !topics[topic] {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range dead {
		h.Unregister(conn)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
