package app

import (
	"sync"

	chatdomain "sirachat/internal/chat/domain"
)

// Client one live websocket connection's surface, enough for the HTTP
// upload handler to reach the open chat and push events back
type Client interface {
	UID() string
	CurrentChat() *ChatSession
	Push(resp chatdomain.WSResponse)
}

// Hub uid to live connection registry. One connection per uid, a newer
// sign-in replaces the older one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewHub create an empty hub
func NewHub() *Hub {
	return &Hub{clients: map[string]Client{}}
}

// Register bind a connection to its uid
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c.UID()] = c
	h.mu.Unlock()
}

// Unregister drop the binding, only when it still points at this client
func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	if h.clients[c.UID()] == c {
		delete(h.clients, c.UID())
	}
	h.mu.Unlock()
}

// Find the live connection of one uid
func (h *Hub) Find(uid string) (Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[uid]
	return c, ok
}
