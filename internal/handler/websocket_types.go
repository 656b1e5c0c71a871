// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a WebSocket event subscriber
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ClientRegistry tracks the connected WebSocket clients
type ClientRegistry struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewClientRegistry creates an empty registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cr *ClientRegistry) Register(client *Client) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()
	cr.clients[client.ID] = client
}

// Unregister removes a client and closes its send channel
func (cr *ClientRegistry) Unregister(client *Client) {
	cr.mutex.Lock()
	defer cr.mutex.Unlock()

	if _, ok := cr.clients[client.ID]; ok {
		delete(cr.clients, client.ID)
		close(client.Send)
	}
}

// GetStats returns connection statistics
func (cr *ClientRegistry) GetStats() *ClientStats {
	cr.mutex.RLock()
	defer cr.mutex.RUnlock()

	stats := &ClientStats{
		TotalConnections: len(cr.clients),
		Clients:          make([]*Client, 0, len(cr.clients)),
	}
	for _, client := range cr.clients {
		stats.Clients = append(stats.Clients, client)
	}
	return stats
}

// ClientStats represents WebSocket client statistics
type ClientStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
