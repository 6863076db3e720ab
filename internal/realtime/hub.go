package realtime

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks live websocket connections by connection id. A device that
// wants QR push events connects to /ws, receives its connection id, and
// passes it to the QR endpoints.
type Hub struct {
	connections map[string]*websocket.Conn
	mutex       sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*websocket.Conn),
	}
}

func (h *Hub) Register(connID string, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if oldConn, exists := h.connections[connID]; exists && oldConn != nil {
		_ = oldConn.Close()
	}

	h.connections[connID] = conn
}

func (h *Hub) Unregister(connID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if conn, exists := h.connections[connID]; exists && conn != nil {
		_ = conn.Close()
		delete(h.connections, connID)
	}
}

// EmitTo writes an event frame to the connection. Returns false if the
// connection is unknown or the write fails; a failed connection is
// dropped so the peer falls back to polling.
func (h *Hub) EmitTo(connID, event string, payload any) bool {
	h.mutex.RLock()
	conn, exists := h.connections[connID]
	h.mutex.RUnlock()

	if !exists || conn == nil {
		return false
	}

	if err := conn.WriteJSON(Event{Event: event, Data: payload}); err != nil {
		h.Unregister(connID)
		return false
	}

	return true
}

func (h *Hub) IsConnected(connID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.connections[connID]
	return exists
}

func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}

func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for connID, conn := range h.connections {
		if conn != nil {
			_ = conn.Close()
		}
		delete(h.connections, connID)
	}
}
