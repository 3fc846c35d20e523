package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/OpenLaserCore/internal/auth"
	"github.com/KevinKickass/OpenLaserCore/internal/dispatcher"
	"go.uber.org/zap"
)

// StateFunc supplies the snapshot a client receives after registering.
type StateFunc func() any

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	logger   *zap.Logger
	verifier auth.TokenVerifier
	state    StateFunc

	// closed when Run returns
	done chan struct{}
}

// NewHub creates a new Hub. With a nil verifier clients need no
// authentication message.
func NewHub(logger *zap.Logger, verifier auth.TokenVerifier, state StateFunc) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		verifier:   verifier,
		state:      state,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr()),
				zap.Int("total_clients", total))

			if h.state != nil {
				h.sendTo(client, NewMessage(MessageTypeState, h.state()))
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				h.queue(client, data)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendTo(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	h.mu.Lock()
	if h.clients[client] {
		h.queue(client, data)
	}
	h.mu.Unlock()
}

// queue must be called with h.mu held.
func (h *Hub) queue(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		// slow or dead client
		close(client.send)
		delete(h.clients, client)
		h.logger.Warn("Client send buffer full, unregistering",
			zap.String("remote_addr", client.remoteAddr()))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// Handle is a dispatcher listener forwarding device and job events.
func (h *Hub) Handle(ev dispatcher.Event) {
	if msg, ok := FromEvent(ev); ok {
		h.Broadcast(msg)
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
