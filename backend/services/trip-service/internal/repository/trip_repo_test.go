package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"fleetride/backend/services/trip-service/internal/models"
)

// fakeRow feeds scanTrip the values a postgres row would carry.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *models.TripStatus:
			*p = models.TripStatus(r.values[i].(string))
		case *time.Time:
			*p = r.values[i].(time.Time)
		case **time.Time:
			if v, ok := r.values[i].(time.Time); ok {
				*p = &v
			}
		case *float64:
			*p = r.values[i].(float64)
		case *sql.NullFloat64:
			if v, ok := r.values[i].(float64); ok {
				*p = sql.NullFloat64{Float64: v, Valid: true}
			}
		case *[]byte:
			*p = r.values[i].([]byte)
		}
	}
	return nil
}

func TestScanTripCompleted(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	row := fakeRow{values: []any{
		"6f1c", "c1", "v1", "completed", start, end,
		40.0, -74.0, 40.1, -74.1,
		[]byte(`[{"latitude":40,"longitude":-74,"timestamp":"2026-03-01T09:00:00Z"},{"latitude":40.1,"longitude":-74.1,"timestamp":"2026-03-01T09:10:00Z"}]`),
		8.6, 18.4, 10.0, 1.84, 16.56,
		start, end,
	}}

	trip, err := scanTrip(row)
	if err != nil {
		t.Fatalf("scanTrip: %v", err)
	}
	if trip.Status != models.TripStatusCompleted || trip.EndTime == nil || !trip.EndTime.Equal(end) {
		t.Fatalf("unexpected trip %+v", trip)
	}
	if trip.EndLocation == nil || trip.EndLocation.Longitude != -74.1 {
		t.Fatalf("end location not restored: %+v", trip.EndLocation)
	}
	if len(trip.Samples) != 2 || trip.Samples[1].Latitude != 40.1 {
		t.Fatalf("samples not restored: %+v", trip.Samples)
	}
}

func TestScanTripWithoutEnd(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"6f1d", "c1", "v1", "active", start, nil,
		40.0, -74.0, nil, nil,
		[]byte(`[]`),
		0.0, 2.5, 0.0, 0.0, 2.5,
		start, start,
	}}

	trip, err := scanTrip(row)
	if err != nil {
		t.Fatalf("scanTrip: %v", err)
	}
	if trip.EndTime != nil || trip.EndLocation != nil {
		t.Fatalf("active trip should have no end: %+v", trip)
	}
	if trip.Samples == nil {
		t.Fatal("samples should be an empty slice, not nil")
	}
}

func TestScanTripPropagatesErrors(t *testing.T) {
	if _, err := scanTrip(fakeRow{err: sql.ErrNoRows}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
