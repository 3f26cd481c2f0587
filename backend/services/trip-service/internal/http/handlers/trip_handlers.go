package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/models"
	"fleetride/backend/services/trip-service/internal/trip"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// TripService is the trip lifecycle the handlers drive.
type TripService interface {
	Reserve(ctx context.Context, customerID, vehicleID string, discountPct float64) (models.Trip, error)
	CancelReservation(ctx context.Context, customerID string) error
	Open(ctx context.Context, customerID, vehicleID string) (models.Trip, error)
	Close(ctx context.Context, customerID string) (models.Trip, error)
	ActiveTrip(customerID string) (models.Trip, bool)
	History(ctx context.Context, customerID string, limit int) ([]models.Trip, error)
	Trip(ctx context.Context, customerID, tripID string) (*models.Trip, error)
	DeleteTrip(ctx context.Context, customerID, tripID string) error
}

// TripHandlers serves /api/trips.
type TripHandlers struct {
	svc    TripService
	logger *zap.Logger
}

// NewTripHandlers builds handlers.
func NewTripHandlers(svc TripService, logger *zap.Logger) *TripHandlers {
	return &TripHandlers{svc: svc, logger: logger}
}

type reserveRequest struct {
	VehicleID       string  `json:"vehicle_id"`
	DiscountPercent float64 `json:"discount_percent"`
}

type startRequest struct {
	VehicleID string `json:"vehicle_id"`
}

// Reserve holds a vehicle for the caller.
func (h *TripHandlers) Reserve(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	var req reserveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.VehicleID = strings.TrimSpace(req.VehicleID)
	if req.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		writeError(w, http.StatusBadRequest, "discount_percent must be between 0 and 100")
		return
	}

	reserved, err := h.svc.Reserve(r.Context(), customer, req.VehicleID, trip.ClampPercent(req.DiscountPercent))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"trip": reserved})
}

// CancelReservation releases a reserved vehicle.
func (h *TripHandlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelReservation(r.Context(), customer); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Start opens a trip. With no vehicle_id the caller's reservation is started.
func (h *TripHandlers) Start(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	vehicleID := strings.TrimSpace(req.VehicleID)
	if vehicleID == "" {
		if cur, ok := h.svc.ActiveTrip(customer); ok && cur.Status == models.TripStatusReserved {
			vehicleID = cur.VehicleID
		}
	}
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	started, err := h.svc.Open(r.Context(), customer, vehicleID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"trip": started})
}

// Active returns the caller's trip in progress.
func (h *TripHandlers) Active(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	cur, ok := h.svc.ActiveTrip(customer)
	if !ok {
		writeError(w, http.StatusNotFound, "no trip in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trip": cur})
}

// End completes the caller's active trip.
func (h *TripHandlers) End(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	done, err := h.svc.Close(r.Context(), customer)
	if err != nil {
		if done.Status == models.TripStatusCompleted {
			// completed but not stored; the rider still gets the bill
			h.logger.Warn("trip completed without history", zap.String("trip_id", done.ID), zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]interface{}{"trip": done, "warning": "trip history not saved"})
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trip": done})
}

// History lists the caller's completed trips.
func (h *TripHandlers) History(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	trips, err := h.svc.History(r.Context(), customer, queryInt(r, "limit", defaultHistoryLimit, maxHistoryLimit))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if trips == nil {
		trips = []models.Trip{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trips": trips})
}

// Get returns one trip.
func (h *TripHandlers) Get(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	id, ok := tripID(w, r)
	if !ok {
		return
	}
	found, err := h.svc.Trip(r.Context(), customer, id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trip": found})
}

// Delete removes a stored trip.
func (h *TripHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	customer, ok := customerID(w, r)
	if !ok {
		return
	}
	id, ok := tripID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteTrip(r.Context(), customer, id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// tripID rejects ids that cannot name a trip so they never reach the database.
func tripID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "trip not found")
		return "", false
	}
	return id.String(), true
}
