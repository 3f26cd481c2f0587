package models

import "time"

// Location is the normalized drive_state position.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// Battery is the normalized charge_state. Nil pointers mean "no data", not zero.
type Battery struct {
	Level         *float64 `json:"level"`
	Range         *float64 `json:"range"`
	Charging      bool     `json:"charging"`
	ChargingState *string  `json:"charging_state,omitempty"`
	ChargeLimit   *float64 `json:"charge_limit"`
}

// Climate is the normalized climate_state. Nil pointers mean "no data", not zero.
type Climate struct {
	InsideTemp  *float64 `json:"inside_temp"`
	OutsideTemp *float64 `json:"outside_temp"`
	HVACOn      bool     `json:"hvac_on"`
	TargetTemp  *float64 `json:"target_temp"`
}

// TelemetrySample is one position fix appended to a trip.
type TelemetrySample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample's coordinates.
func (s TelemetrySample) Point() Point {
	return Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Point is a bare coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
