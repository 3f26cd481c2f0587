package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/models"
)

// UpdateSource publishes trip updates.
type UpdateSource interface {
	Subscribe(fn func(models.TripUpdate)) func()
}

// Message is the frame written to clients.
type Message struct {
	Type   string             `json:"type"`
	Update *models.TripUpdate `json:"update,omitempty"`
	Trip   *models.Trip       `json:"trip,omitempty"`
}

// Message types.
const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "trip_update"
)

// Hub fans trip updates out to the owning customer's connections.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
	logger      *zap.Logger
}

// NewHub builds connection hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]map[*Connection]struct{}),
		logger:      logger,
	}
}

// Add registers new connection.
func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.connections[conn.CustomerID()]
	if !ok {
		set = make(map[*Connection]struct{})
		h.connections[conn.CustomerID()] = set
	}
	set[conn] = struct{}{}
}

// Remove removes connection.
func (h *Hub) Remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.connections[conn.CustomerID()]
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.CustomerID())
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.connections {
		n += len(set)
	}
	return n
}

// Broadcast sends u to every connection of its customer.
func (h *Hub) Broadcast(u models.TripUpdate) {
	h.mu.RLock()
	set := h.connections[u.CustomerID]
	targets := make([]*Connection, 0, len(set))
	for conn := range set {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(Message{Type: MessageUpdate, Update: &u})
	if err != nil {
		h.logger.Error("failed to encode trip update", zap.String("trip_id", u.TripID), zap.Error(err))
		return
	}
	for _, conn := range targets {
		conn.Send(payload)
	}
}

// Run forwards updates from src until ctx is done.
func (h *Hub) Run(ctx context.Context, src UpdateSource) {
	unsubscribe := src.Subscribe(h.Broadcast)
	defer unsubscribe()
	<-ctx.Done()
}
