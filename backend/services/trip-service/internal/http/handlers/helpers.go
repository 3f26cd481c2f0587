package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"fleetride/backend/services/trip-service/internal/clients"
	"fleetride/backend/services/trip-service/internal/http/middleware"
	"fleetride/backend/services/trip-service/internal/repository"
	"fleetride/backend/services/trip-service/internal/service"
	"fleetride/backend/services/trip-service/internal/signer"
	"fleetride/backend/services/trip-service/internal/trip"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func customerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message)
}

func classify(err error) (int, string) {
	var apiErr *clients.APIError
	switch {
	case errors.Is(err, service.ErrNoActiveTrip):
		return http.StatusNotFound, "no trip in progress"
	case errors.Is(err, repository.ErrTripNotFound):
		return http.StatusNotFound, "trip not found"
	case errors.Is(err, service.ErrTripInProgress):
		return http.StatusConflict, "a trip is already in progress"
	case errors.Is(err, service.ErrVehicleInUse):
		return http.StatusConflict, "vehicle is in use"
	case errors.Is(err, trip.ErrInvalidTripState):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrVehicleUnavailable):
		return http.StatusServiceUnavailable, "vehicle unavailable"
	case errors.Is(err, service.ErrLocationUnavailable):
		return http.StatusServiceUnavailable, "vehicle location unavailable"
	case errors.Is(err, clients.ErrNotAuthenticated),
		errors.Is(err, clients.ErrRefreshFailed),
		errors.Is(err, clients.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "fleet account not connected"
	case errors.Is(err, clients.ErrOAuthExchangeFailed):
		return http.StatusBadGateway, "fleet authorization failed"
	case errors.Is(err, clients.ErrConfiguration), errors.Is(err, signer.ErrSigningUnavailable):
		return http.StatusServiceUnavailable, "fleet integration not configured"
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusNotFound:
			return http.StatusNotFound, "vehicle not found"
		case http.StatusRequestTimeout:
			return http.StatusServiceUnavailable, "vehicle unavailable"
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, "fleet api rate limited"
		}
		return http.StatusBadGateway, "fleet api error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "upstream timeout"
	}
	return http.StatusInternalServerError, "internal error"
}
