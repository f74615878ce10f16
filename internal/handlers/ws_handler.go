package handlers

import (
	"net/http"

	"github.com/juan-silveira/clube-navi-sub004/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSHandler upgrades connections and feeds subscription requests to the hub
type WSHandler struct {
	hub      *services.WebSocketHub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler instance
func NewWSHandler(hub *services.WebSocketHub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy is enforced by the CORS layer in front
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type wsRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// StreamHandler handles GET /ws. Clients send {"action":"subscribe","topic":
// "exchange.book.<contract>"} and receive every payload published to that
// topic until they disconnect.
func (h *WSHandler) StreamHandler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	h.hub.Register(conn)
	defer h.hub.Unregister(conn)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Action == "subscribe" && req.Topic != "" {
			h.hub.Subscribe(conn, req.Topic)
		}
	}
}
