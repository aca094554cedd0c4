package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/audioscore/api/internal/model"
)

// ErrRecipientGone reports that no client is listening on the addressed
// connection id. Delivery has no other failure mode from the caller's side.
var ErrRecipientGone = errors.New("websocket: recipient gone")

// Notifier is the push contract consumed by the dispatcher and orchestrator.
type Notifier interface {
	Push(connectionID string, msg model.Notification) error
}

// Client represents a WebSocket client
type Client struct {
	ConnectionID string
	Conn         *websocket.Conn
	Send         chan []byte
}

// Hub maintains active WebSocket connections addressed by connection id
type Hub struct {
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConnectionID] = client
			h.mu.Unlock()
			log.Printf("Client registered with connection %s", client.ConnectionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.ConnectionID]; ok && current == client {
				delete(h.clients, client.ConnectionID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from connection %s", client.ConnectionID)
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Push delivers one notification to the addressed connection. It returns
// ErrRecipientGone when the connection is unknown or its send buffer cannot
// accept the message; otherwise delivery is considered done.
func (h *Hub) Push(connectionID string, msg model.Notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.deliver(connectionID, data)
}

// deliver sends raw bytes to a connection. The read lock is held across the
// send: Run closes Send under the write lock, so a send here can never
// overlap the close.
func (h *Hub) deliver(connectionID string, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return ErrRecipientGone
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrRecipientGone
	}
}

// HandleConnection handles a WebSocket connection. The hub issues the
// connection id and sends it to the client in the first message; requests
// carry it back as the notification address.
func (h *Hub) HandleConnection(c *websocket.Conn) {
	client := &Client{
		ConnectionID: uuid.New().String(),
		Conn:         c,
		Send:         make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	hello := model.WSConnectedMessage{
		Type:         model.WSMessageTypeConnected,
		ConnectionID: client.ConnectionID,
	}
	if data, err := json.Marshal(hello); err == nil {
		_ = h.deliver(client.ConnectionID, data)
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			_ = h.deliver(client.ConnectionID, data)
		}
	}
}
