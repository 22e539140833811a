package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/player"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Control surfaces connect from arbitrary local origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventMessage is the wire envelope for player events
type EventMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventsHandler streams player events to connected control surfaces
type EventsHandler struct {
	dispatcher *player.Dispatcher
}

// NewEventsHandler creates a new events handler instance
func NewEventsHandler(dispatcher *player.Dispatcher) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher}
}

// Stream handles GET /api/events, upgrading to a WebSocket that forwards
// every player event until the client disconnects
func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	events := h.dispatcher.Subscribe()
	defer h.dispatcher.Unsubscribe(events)
	defer conn.Close()

	// Reader drains control frames and signals disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	logger.Log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Event stream connected")

	for {
		select {
		case <-done:
			return
		case event := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(EventMessage{
				Type:    string(event.Type),
				Payload: event.Payload,
			}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetupEventRoutes registers the event stream route
func SetupEventRoutes(apiGroup *gin.RouterGroup, dispatcher *player.Dispatcher) {
	handler := NewEventsHandler(dispatcher)
	apiGroup.GET("/events", handler.Stream)
}
