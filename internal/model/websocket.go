package model

// WebSocket control message types
const (
	WSMessageTypeConnected = "connected"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage represents a generic WebSocket control message
type WSMessage struct {
	Type string `json:"type"`
}

// WSConnectedMessage tells a client which connection id to put in
// transcribe requests.
type WSConnectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}
