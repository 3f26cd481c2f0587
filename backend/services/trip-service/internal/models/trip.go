package models

import "time"

// TripStatus is the lifecycle state of a trip.
type TripStatus string

// Trip statuses. Transitions only move forward.
const (
	TripStatusReserved  TripStatus = "reserved"
	TripStatusActive    TripStatus = "active"
	TripStatusCompleted TripStatus = "completed"
)

// Trip is a metered ride in one vehicle for one customer.
// DistanceMiles, Fare, DiscountAmount and FinalFare are caches derived from Samples.
type Trip struct {
	ID              string            `db:"id" json:"id"`
	VehicleID       string            `db:"vehicle_id" json:"vehicle_id"`
	CustomerID      string            `db:"customer_id" json:"customer_id"`
	Status          TripStatus        `db:"status" json:"status"`
	StartTime       time.Time         `db:"start_time" json:"start_time"`
	EndTime         *time.Time        `db:"end_time" json:"end_time,omitempty"`
	StartLocation   Point             `db:"start_location" json:"start_location"`
	EndLocation     *Point            `db:"end_location" json:"end_location,omitempty"`
	Samples         []TelemetrySample `db:"samples" json:"samples"`
	DistanceMiles   float64           `db:"distance_miles" json:"distance_miles"`
	Fare            float64           `db:"fare" json:"fare"`
	DiscountPercent float64           `db:"discount_percent" json:"discount_percent"`
	DiscountAmount  float64           `db:"discount_amount" json:"discount_amount"`
	FinalFare       float64           `db:"final_fare" json:"final_fare"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with t.
func (t Trip) Clone() Trip {
	out := t
	if t.Samples != nil {
		out.Samples = make([]TelemetrySample, len(t.Samples))
		copy(out.Samples, t.Samples)
	}
	if t.EndTime != nil {
		end := *t.EndTime
		out.EndTime = &end
	}
	if t.EndLocation != nil {
		loc := *t.EndLocation
		out.EndLocation = &loc
	}
	return out
}

// TripUpdate is pushed to subscribers each time a running trip changes.
type TripUpdate struct {
	TripID        string           `json:"trip_id"`
	VehicleID     string           `json:"vehicle_id"`
	CustomerID    string           `json:"customer_id"`
	Status        TripStatus       `json:"status"`
	Sample        *TelemetrySample `json:"sample,omitempty"`
	Speed         *float64         `json:"speed,omitempty"`
	Battery       *Battery         `json:"battery,omitempty"`
	Climate       *Climate         `json:"climate,omitempty"`
	DistanceMiles float64          `json:"distance_miles"`
	Fare          float64          `json:"fare"`
	FinalFare     float64          `json:"final_fare"`
	At            time.Time        `json:"at"`
}
