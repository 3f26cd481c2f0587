// Package telemetry normalizes vehicle_data payloads and polls them per vehicle.
package telemetry

import (
	"time"

	"fleetride/backend/services/trip-service/internal/models"
)

const chargingStateCharging = "Charging"

// ExtractLocation returns nil when the payload has no drive_state or no coordinates.
// Heading and speed default to zero. A missing vendor timestamp is left zero for the caller to fill.
func ExtractLocation(data *models.VehicleData) *models.Location {
	if data == nil || data.DriveState == nil {
		return nil
	}
	ds := data.DriveState
	if ds.Latitude == nil || ds.Longitude == nil {
		return nil
	}
	loc := &models.Location{
		Latitude:  *ds.Latitude,
		Longitude: *ds.Longitude,
		Heading:   valueOr(ds.Heading, 0),
		Speed:     valueOr(ds.Speed, 0),
	}
	if ds.Timestamp != nil && *ds.Timestamp > 0 {
		loc.Timestamp = time.UnixMilli(*ds.Timestamp).UTC()
	}
	return loc
}

// ExtractSpeed returns nil without drive_state and 0 when the vehicle reports no speed (parked).
func ExtractSpeed(data *models.VehicleData) *float64 {
	if data == nil || data.DriveState == nil {
		return nil
	}
	speed := valueOr(data.DriveState.Speed, 0)
	return &speed
}

// ExtractBattery never coerces missing level, range or limit to zero.
func ExtractBattery(data *models.VehicleData) *models.Battery {
	if data == nil {
		return nil
	}
	cs := data.ChargeState
	if cs == nil {
		return &models.Battery{}
	}
	battery := &models.Battery{
		Level:         copyFloat(cs.BatteryLevel),
		Range:         copyFloat(cs.BatteryRange),
		ChargeLimit:   copyFloat(cs.ChargeLimitSOC),
		ChargingState: copyString(cs.ChargingState),
	}
	battery.Charging = cs.ChargingState != nil && *cs.ChargingState == chargingStateCharging
	return battery
}

// ExtractClimate never coerces missing temperatures to zero.
func ExtractClimate(data *models.VehicleData) *models.Climate {
	if data == nil {
		return nil
	}
	cl := data.ClimateState
	if cl == nil {
		return &models.Climate{}
	}
	return &models.Climate{
		InsideTemp:  copyFloat(cl.InsideTemp),
		OutsideTemp: copyFloat(cl.OutsideTemp),
		HVACOn:      cl.IsClimateOn != nil && *cl.IsClimateOn,
		TargetTemp:  copyFloat(cl.DriverTempSetting),
	}
}

// Sample converts a location into a trip sample, stamping it with fallback when the vendor gave no time.
func Sample(loc models.Location, fallback time.Time) models.TelemetrySample {
	ts := loc.Timestamp
	if ts.IsZero() {
		ts = fallback.UTC()
	}
	heading := loc.Heading
	speed := loc.Speed
	return models.TelemetrySample{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Heading:   &heading,
		Speed:     &speed,
		Timestamp: ts,
	}
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
