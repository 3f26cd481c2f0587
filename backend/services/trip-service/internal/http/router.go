package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fleetride/backend/services/trip-service/internal/http/handlers"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	FleetHandlers *handlers.FleetHandlers
	TripHandlers  *handlers.TripHandlers
	LiveHandler   http.HandlerFunc
	HealthHandler http.HandlerFunc
	Metrics       http.Handler
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", deps.HealthHandler)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	// the vendor redirects the browser here; the state cookie ties it to the authorize call
	r.Get("/api/fleet/callback", deps.FleetHandlers.Callback)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Get("/api/fleet/authorize", deps.FleetHandlers.Authorize)
		r.Get("/api/fleet/status", deps.FleetHandlers.Status)
		r.Delete("/api/fleet/session", deps.FleetHandlers.Disconnect)
		r.Get("/api/vehicles", deps.FleetHandlers.Vehicles)

		r.Route("/api/trips", func(r chi.Router) {
			r.Get("/", deps.TripHandlers.History)
			r.Post("/", deps.TripHandlers.Start)
			r.Post("/reserve", deps.TripHandlers.Reserve)
			r.Delete("/reserve", deps.TripHandlers.CancelReservation)
			r.Get("/active", deps.TripHandlers.Active)
			r.Post("/active/end", deps.TripHandlers.End)
			if deps.LiveHandler != nil {
				r.Get("/live", deps.LiveHandler)
			}
			r.Get("/{id}", deps.TripHandlers.Get)
			r.Delete("/{id}", deps.TripHandlers.Delete)
		})
	})

	return r
}
