package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/http/middleware"
	"fleetride/backend/services/trip-service/internal/models"
)

// ActiveTrips returns a customer's trip in progress.
type ActiveTrips interface {
	ActiveTrip(customerID string) (models.Trip, bool)
}

// Server upgrades authenticated requests to the live trip feed.
type Server struct {
	ctx          context.Context
	hub          *Hub
	trips        ActiveTrips
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server. Connections close when ctx is done.
func NewServer(ctx context.Context, hub *Hub, trips ActiveTrips, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		ctx:          ctx,
		hub:          hub,
		trips:        trips,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for GET /api/trips/live.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	connection := NewConnection(customerID, conn, s.writeTimeout, s.logger, func(c *Connection) {
		s.hub.Remove(c)
		cancel()
	})
	s.hub.Add(connection)

	if s.trips != nil {
		if cur, ok := s.trips.ActiveTrip(customerID); ok {
			if payload, err := json.Marshal(Message{Type: MessageSnapshot, Trip: &cur}); err == nil {
				connection.Send(payload)
			}
		}
	}

	go connection.Start(ctx)
	s.logger.Debug("live feed connected", zap.String("customer_id", customerID))
}
