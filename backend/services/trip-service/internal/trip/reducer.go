package trip

import (
	"errors"
	"fmt"
	"time"

	"fleetride/backend/services/trip-service/internal/models"
)

// ErrInvalidTripState is returned for any illegal transition or mutation.
var ErrInvalidTripState = errors.New("trip: invalid trip state")

// ApplySample returns t with s appended and distance and fare updated incrementally.
// t itself is never modified. Only active trips accept samples.
func ApplySample(t models.Trip, s models.TelemetrySample, params FareParams) (models.Trip, error) {
	if t.Status != models.TripStatusActive {
		return t, fmt.Errorf("%w: cannot add samples to a %s trip", ErrInvalidTripState, t.Status)
	}

	next := t.Clone()
	if n := len(next.Samples); n > 0 {
		next.DistanceMiles += Haversine(next.Samples[n-1].Point(), s.Point())
	}
	next.Samples = append(next.Samples, s)
	next.Fare = Fare(params, next.DistanceMiles, Elapsed(next.StartTime, next.Samples))
	next.DiscountAmount, next.FinalFare = Discount(next.Fare, next.DiscountPercent)
	if s.Timestamp.After(next.UpdatedAt) {
		next.UpdatedAt = s.Timestamp
	}
	return next, nil
}

// New creates a reserved trip. Call Activate to start metering.
func New(id, customerID, vehicleID string, discountPct float64, now time.Time) models.Trip {
	now = now.UTC()
	return models.Trip{
		ID:              id,
		CustomerID:      customerID,
		VehicleID:       vehicleID,
		Status:          models.TripStatusReserved,
		Samples:         []models.TelemetrySample{},
		DiscountPercent: ClampPercent(discountPct),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Activate moves a reserved trip to active with its first sample as the start location.
// The trip starts at the first sample's timestamp so elapsed time is measured on the same
// clock as every later sample; startTime is used only when the sample carries none.
func Activate(t models.Trip, first models.TelemetrySample, startTime time.Time, params FareParams) (models.Trip, error) {
	if err := Transition(t.Status, EventStart, t); err != nil {
		return t, err
	}
	if first.Timestamp.IsZero() {
		first.Timestamp = startTime.UTC()
	}
	next := t.Clone()
	next.Status = models.TripStatusActive
	next.StartTime = first.Timestamp.UTC()
	next.StartLocation = first.Point()
	next.Samples = []models.TelemetrySample{first}
	next.DistanceMiles = 0
	next.Fare = Fare(params, 0, Elapsed(next.StartTime, next.Samples))
	next.DiscountAmount, next.FinalFare = Discount(next.Fare, next.DiscountPercent)
	next.UpdatedAt = next.StartTime
	return next, nil
}

// Complete appends the final sample, freezes the trip and applies the discount.
// The final sample's timestamp is the end time, so distance and fare stay derivable from the samples.
func Complete(t models.Trip, final models.TelemetrySample, endTime time.Time, params FareParams) (models.Trip, error) {
	if t.Status != models.TripStatusActive {
		return t, fmt.Errorf("%w: cannot complete a %s trip", ErrInvalidTripState, t.Status)
	}
	if final.Timestamp.IsZero() {
		final.Timestamp = endTime.UTC()
	}
	if final.Timestamp.Before(t.StartTime) {
		final.Timestamp = t.StartTime
	}
	next, err := ApplySample(t, final, params)
	if err != nil {
		return t, err
	}

	end := final.Timestamp
	endLoc := final.Point()
	next.EndTime = &end
	next.EndLocation = &endLoc
	next.DistanceMiles, next.Fare = Recompute(next.Samples, next.StartTime, params)
	next.DiscountAmount, next.FinalFare = Discount(next.Fare, next.DiscountPercent)
	next.UpdatedAt = end

	if err := Transition(next.Status, EventComplete, next); err != nil {
		return t, err
	}
	next.Status = models.TripStatusCompleted
	return next, nil
}
