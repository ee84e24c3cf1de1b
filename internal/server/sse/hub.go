package sse

import (
	"encoding/json"
	"sync"

	"media-analyzer-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Client is a single connected SSE client.
type Client chan []byte

// Hub tracks the set of connected dashboard browsers and broadcasts state
// updates to them.
type Hub struct {
	clients map[Client]bool

	broadcast  chan []byte
	register   chan Client
	unregister chan Client

	mu sync.Mutex
}

// Event is the envelope pushed to browsers, tagged by Type.
type Event struct {
	Type     string           `json:"type"` // "analysis" or "session"
	Analysis *models.Analysis `json:"analysis,omitempty"`
	Session  json.RawMessage  `json:"session,omitempty"`
}

// NewHub creates a new hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop. Run this in its own goroutine.
func (h *Hub) Run() {
	log.Info("SSE hub started and running")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting message to %d SSE clients", len(h.clients))

			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Client channel is full or closed.
					log.Warn("SSE client channel full or closed, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast queues a message for all registered clients.
func (h *Hub) Broadcast(message []byte) {
	// Avoid blocking when the broadcast channel is full.
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastAnalysis pushes an accepted analysis to all clients.
func (h *Hub) BroadcastAnalysis(analysis models.Analysis) {
	data, err := json.Marshal(Event{Type: "analysis", Analysis: &analysis})
	if err != nil {
		log.Errorf("Failed to marshal analysis event for SSE: %v", err)
		return
	}
	h.Broadcast(data)
}

// BroadcastSession pushes a session state snapshot to all clients. It takes
// the snapshot as any to keep this package independent of the session
// package.
func (h *Hub) BroadcastSession(snapshot any) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		log.Errorf("Failed to marshal session state for SSE: %v", err)
		return
	}
	data, err := json.Marshal(Event{Type: "session", Session: raw})
	if err != nil {
		log.Errorf("Failed to marshal session event for SSE: %v", err)
		return
	}
	h.Broadcast(data)
}
