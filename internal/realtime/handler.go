package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	// TODO: restrict to the web client origins once they are final.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub    *Hub
	logger *zap.Logger
}

func NewWSHandler(hub *Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, logger: logger}
}

func (h *WSHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Connect)
}

// Connect upgrades the request, assigns a connection id and sends it to
// the client in the first frame. The client references that id when
// generating or scanning a QR session.
func (h *WSHandler) Connect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	h.hub.Register(connID, conn)

	if err := conn.WriteJSON(Event{Event: "connected", Data: gin.H{"connection_id": connID}}); err != nil {
		h.hub.Unregister(connID)
		return
	}

	go h.readLoop(connID, conn)
}

// readLoop drains client frames so pings are answered and the close
// handshake is observed. Inbound payloads are ignored: all QR actions go
// through the REST endpoints.
func (h *WSHandler) readLoop(connID string, conn *websocket.Conn) {
	defer h.hub.Unregister(connID)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
