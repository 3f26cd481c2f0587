package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"fleetride/backend/services/trip-service/internal/models"
)

type envelope[T any] struct {
	Response T `json:"response"`
}

// vehicleWire is the vendor's listing entry; id is numeric, id_s its string form.
type vehicleWire struct {
	ID            json.Number `json:"id"`
	IDString      string      `json:"id_s"`
	VIN           string      `json:"vin"`
	DisplayName   string      `json:"display_name"`
	State         string      `json:"state"`
	VehicleConfig *struct {
		CarType string `json:"car_type"`
	} `json:"vehicle_config"`
}

func (w vehicleWire) ref() models.VehicleRef {
	id := w.IDString
	if id == "" {
		id = w.ID.String()
	}
	ref := models.VehicleRef{
		ID:          id,
		DisplayName: w.DisplayName,
		VIN:         w.VIN,
		State:       w.State,
	}
	if w.VehicleConfig != nil {
		ref.Model = w.VehicleConfig.CarType
	}
	return ref
}

func vehiclePath(vehicleID string, suffix string) string {
	return "/api/1/vehicles/" + url.PathEscape(vehicleID) + suffix
}

// ListVehicles returns the vehicles of the connected account.
func (c *FleetClient) ListVehicles(ctx context.Context) ([]models.VehicleRef, error) {
	resp, err := c.Request(ctx, "/api/1/vehicles", RequestOptions{Method: http.MethodGet}, false)
	if err != nil {
		return nil, err
	}
	var env envelope[[]vehicleWire]
	if err := resp.Decode(&env); err != nil {
		return nil, fmt.Errorf("clients: decode vehicles: %w", err)
	}
	out := make([]models.VehicleRef, 0, len(env.Response))
	for _, v := range env.Response {
		out = append(out, v.ref())
	}
	return out, nil
}

// Vehicle returns one vehicle's summary, including its online state.
func (c *FleetClient) Vehicle(ctx context.Context, vehicleID string) (models.VehicleRef, error) {
	resp, err := c.Request(ctx, vehiclePath(vehicleID, ""), RequestOptions{Method: http.MethodGet}, false)
	if err != nil {
		return models.VehicleRef{}, err
	}
	var env envelope[vehicleWire]
	if err := resp.Decode(&env); err != nil {
		return models.VehicleRef{}, fmt.Errorf("clients: decode vehicle: %w", err)
	}
	return env.Response.ref(), nil
}

// IsOnline reports whether the vehicle is awake.
func (c *FleetClient) IsOnline(ctx context.Context, vehicleID string) (bool, error) {
	v, err := c.Vehicle(ctx, vehicleID)
	if err != nil {
		return false, err
	}
	return v.Online(), nil
}

// WakeUp asks a sleeping vehicle to come online. It returns the state reported right away.
func (c *FleetClient) WakeUp(ctx context.Context, vehicleID string) (models.VehicleRef, error) {
	resp, err := c.Request(ctx, vehiclePath(vehicleID, "/wake_up"), RequestOptions{Method: http.MethodPost}, true)
	if err != nil {
		return models.VehicleRef{}, err
	}
	var env envelope[vehicleWire]
	if err := resp.Decode(&env); err != nil {
		return models.VehicleRef{}, fmt.Errorf("clients: decode wake_up: %w", err)
	}
	return env.Response.ref(), nil
}

// VehicleData fetches the full telemetry payload. Signed when a key is configured.
func (c *FleetClient) VehicleData(ctx context.Context, vehicleID string) (*models.VehicleData, error) {
	resp, err := c.Request(ctx, vehiclePath(vehicleID, "/vehicle_data"), RequestOptions{
		Method:        http.MethodGet,
		AllowUnsigned: true,
	}, true)
	if err != nil {
		return nil, err
	}
	var env envelope[*models.VehicleData]
	if err := resp.Decode(&env); err != nil {
		return nil, fmt.Errorf("clients: decode vehicle_data: %w", err)
	}
	if env.Response == nil {
		return nil, fmt.Errorf("clients: vehicle_data response is empty")
	}
	return env.Response, nil
}
