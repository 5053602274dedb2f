package handlers

import (
	"net/http"
	"time"

	ws "warrn-service/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

// WebSocketHandler handles live event subscriptions
type WebSocketHandler struct {
	hub *ws.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *ws.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards connect from arbitrary origins
		return true
	},
}

// Live upgrades the connection and subscribes it to report lifecycle
// events. Events published after the subscription are pushed as they
// occur; there is no historical replay.
func (h *WebSocketHandler) Live(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// HealthCheck returns the service health status with hub statistics
func (h *WebSocketHandler) HealthCheck(c *gin.Context) {
	connectedClients, eventsBroadcast := h.hub.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"service":           "warrn-service",
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"connected_clients": connectedClients,
		"events_broadcast":  eventsBroadcast,
	})
}
