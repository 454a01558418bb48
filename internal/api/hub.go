package api

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/events"
)

// Hub fans lifecycle events out to connected WebSocket clients. It runs an
// event loop in its own goroutine; clients whose send buffer is full miss
// the frame rather than slowing the others down.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan events.Event

	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates a hub. Call Run in a goroutine to start the event loop.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan events.Event),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes register, unregister and broadcast operations until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*client]struct{})
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("client", c.id))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.String("client", c.id))

		case evt := <-h.broadcast:
			frame, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// Buffer full, this client misses the event.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the event loop down and closes every client connection.
func (h *Hub) Stop() {
	close(h.done)
}

// Publish hands an event to the broadcast loop. Safe to call after Stop, in
// which case the event is discarded. Registered on the event bus.
func (h *Hub) Publish(evt events.Event) {
	select {
	case h.broadcast <- evt:
	case <-h.done:
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// add registers a client, reporting false when the hub has stopped.
func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// remove unregisters a client. A stopped hub has already closed it.
func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
