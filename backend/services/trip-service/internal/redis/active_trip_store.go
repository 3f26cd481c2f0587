package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetride/backend/services/trip-service/internal/models"
)

const (
	activeKeyPrefix = "trips:active:"
	scanBatch       = 100
)

// ActiveTrip is the cached copy of a reserved or running trip. It carries the samples and
// discount so the tracker can resume the trip after a restart.
type ActiveTrip struct {
	models.Trip
	SampleCount int `json:"sample_count"`
}

// ActiveTripStore manages the active trip cache.
type ActiveTripStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewActiveTripStore returns redis-backed store.
func NewActiveTripStore(client *redis.Client, ttl time.Duration) *ActiveTripStore {
	return &ActiveTripStore{client: client, ttl: ttl}
}

func (s *ActiveTripStore) key(customerID string) string {
	return fmt.Sprintf("%s%s", activeKeyPrefix, customerID)
}

// Save caches trip.
func (s *ActiveTripStore) Save(ctx context.Context, trip ActiveTrip) error {
	data, err := json.Marshal(trip)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(trip.CustomerID), data, s.ttl).Err()
}

// Get returns the cached trip or nil when the customer has none.
func (s *ActiveTripStore) Get(ctx context.Context, customerID string) (*ActiveTrip, error) {
	return s.load(ctx, s.key(customerID))
}

// List returns every cached trip. Entries that cannot be decoded are skipped and reported
// in the returned error alongside the readable ones.
func (s *ActiveTripStore) List(ctx context.Context) ([]ActiveTrip, error) {
	var (
		trips []ActiveTrip
		bad   []error
	)
	iter := s.client.Scan(ctx, 0, activeKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		trip, err := s.load(ctx, iter.Val())
		if err != nil {
			bad = append(bad, fmt.Errorf("%s: %w", iter.Val(), err))
			continue
		}
		// expired between SCAN and GET
		if trip == nil {
			continue
		}
		trips = append(trips, *trip)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return trips, errors.Join(bad...)
}

// Delete removes cached trip.
func (s *ActiveTripStore) Delete(ctx context.Context, customerID string) error {
	return s.client.Del(ctx, s.key(customerID)).Err()
}

func (s *ActiveTripStore) load(ctx context.Context, key string) (*ActiveTrip, error) {
	result, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var trip ActiveTrip
	if err := json.Unmarshal([]byte(result), &trip); err != nil {
		return nil, err
	}
	return &trip, nil
}

// SnapshotOf builds the cache entry for t.
func SnapshotOf(t models.Trip) ActiveTrip {
	return ActiveTrip{Trip: t.Clone(), SampleCount: len(t.Samples)}
}
