package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fleetride/backend/services/trip-service/internal/models"
)

// ErrTripNotFound indicates a missing trip or one owned by another customer.
var ErrTripNotFound = errors.New("trip not found")

// TripRepository persists trip history.
type TripRepository struct {
	db *sql.DB
}

// NewTripRepository returns repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `
	id, customer_id, vehicle_id, status, start_time, end_time,
	start_latitude, start_longitude, end_latitude, end_longitude,
	samples, distance_miles, fare, discount_percent, discount_amount, final_fare,
	created_at, updated_at
`

// Save inserts the trip or overwrites the stored copy with the same id.
func (r *TripRepository) Save(ctx context.Context, trip *models.Trip) error {
	samples, err := json.Marshal(trip.Samples)
	if err != nil {
		return fmt.Errorf("encode samples: %w", err)
	}
	var endLat, endLng sql.NullFloat64
	if trip.EndLocation != nil {
		endLat = sql.NullFloat64{Float64: trip.EndLocation.Latitude, Valid: true}
		endLng = sql.NullFloat64{Float64: trip.EndLocation.Longitude, Valid: true}
	}

	const query = `
		INSERT INTO trips (
			id, customer_id, vehicle_id, status, start_time, end_time,
			start_latitude, start_longitude, end_latitude, end_longitude,
			samples, distance_miles, fare, discount_percent, discount_amount, final_fare,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, COALESCE($17, NOW()), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			end_latitude = EXCLUDED.end_latitude,
			end_longitude = EXCLUDED.end_longitude,
			samples = EXCLUDED.samples,
			distance_miles = EXCLUDED.distance_miles,
			fare = EXCLUDED.fare,
			discount_percent = EXCLUDED.discount_percent,
			discount_amount = EXCLUDED.discount_amount,
			final_fare = EXCLUDED.final_fare,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	var createdAt sql.NullTime
	if !trip.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: trip.CreatedAt, Valid: true}
	}
	return r.db.QueryRowContext(ctx, query,
		trip.ID,
		trip.CustomerID,
		trip.VehicleID,
		trip.Status,
		trip.StartTime,
		trip.EndTime,
		trip.StartLocation.Latitude,
		trip.StartLocation.Longitude,
		endLat,
		endLng,
		samples,
		trip.DistanceMiles,
		trip.Fare,
		trip.DiscountPercent,
		trip.DiscountAmount,
		trip.FinalFare,
		createdAt,
	).Scan(&trip.CreatedAt, &trip.UpdatedAt)
}

// GetByID returns the customer's trip.
func (r *TripRepository) GetByID(ctx context.Context, id, customerID string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 AND customer_id = $2`
	trip, err := scanTrip(r.db.QueryRowContext(ctx, query, id, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return trip, nil
}

// ListByCustomer returns last N trips for the customer, newest first.
func (r *TripRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]models.Trip, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tripColumns + ` FROM trips WHERE customer_id = $1 ORDER BY start_time DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *trip)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trips, nil
}

// Delete removes a trip owned by customerID.
func (r *TripRepository) Delete(ctx context.Context, id, customerID string) error {
	const query = `DELETE FROM trips WHERE id = $1 AND customer_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, customerID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTripNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var (
		t              models.Trip
		endLat, endLng sql.NullFloat64
		samples        []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.CustomerID,
		&t.VehicleID,
		&t.Status,
		&t.StartTime,
		&t.EndTime,
		&t.StartLocation.Latitude,
		&t.StartLocation.Longitude,
		&endLat,
		&endLng,
		&samples,
		&t.DistanceMiles,
		&t.Fare,
		&t.DiscountPercent,
		&t.DiscountAmount,
		&t.FinalFare,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if endLat.Valid && endLng.Valid {
		t.EndLocation = &models.Point{Latitude: endLat.Float64, Longitude: endLng.Float64}
	}
	t.Samples = []models.TelemetrySample{}
	if len(samples) > 0 {
		if err := json.Unmarshal(samples, &t.Samples); err != nil {
			return nil, fmt.Errorf("decode samples: %w", err)
		}
	}
	return &t, nil
}
