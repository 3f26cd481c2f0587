package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/clients"
	"fleetride/backend/services/trip-service/internal/models"
	"fleetride/backend/services/trip-service/internal/service"
)

// StateCookie carries the OAuth state between authorize and callback.
const StateCookie = "fleet_oauth_state"

const stateCookieMaxAge = 600

// FleetConnector links the fleet account.
type FleetConnector interface {
	AuthorizationURL() (clients.AuthRequest, error)
	ExchangeCode(ctx context.Context, code string) error
	Status() service.ConnectionStatus
	ClearTokens(ctx context.Context) error
	ListVehicles(ctx context.Context) ([]models.VehicleRef, error)
}

// FleetHandlers serves the fleet account and vehicle endpoints.
type FleetHandlers struct {
	svc          FleetConnector
	cookieSecure bool
	logger       *zap.Logger
}

// NewFleetHandlers builds handlers.
func NewFleetHandlers(svc FleetConnector, cookieSecure bool, logger *zap.Logger) *FleetHandlers {
	return &FleetHandlers{svc: svc, cookieSecure: cookieSecure, logger: logger}
}

// Authorize returns the vendor authorization URL and remembers its state in a cookie.
func (h *FleetHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.AuthorizationURL()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    req.State,
		Path:     "/api/fleet",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"url": req.URL})
}

// Callback completes the authorization code flow.
func (h *FleetHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if vendorErr := q.Get("error"); vendorErr != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = vendorErr
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	cookie, err := r.Cookie(StateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Path:     "/api/fleet",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if err := h.svc.ExchangeCode(r.Context(), code); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Status reports whether the fleet account is connected.
func (h *FleetHandlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// Disconnect drops the stored fleet tokens.
func (h *FleetHandlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearTokens(r.Context()); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Vehicles lists the account's vehicles.
func (h *FleetHandlers) Vehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.svc.ListVehicles(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if vehicles == nil {
		vehicles = []models.VehicleRef{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vehicles": vehicles})
}
