package realtime

// Channel is the push side of the cross-device handshake: best-effort
// delivery to a single connection. There is no delivery guarantee; the
// polling status endpoint stays the source of truth.
type Channel interface {
	EmitTo(connID, event string, payload any) bool
}

// Event is the frame written to a websocket connection.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
