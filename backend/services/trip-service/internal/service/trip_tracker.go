package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"fleetride/backend/services/trip-service/internal/metrics"
	"fleetride/backend/services/trip-service/internal/models"
	redisstore "fleetride/backend/services/trip-service/internal/redis"
	"fleetride/backend/services/trip-service/internal/telemetry"
	"fleetride/backend/services/trip-service/internal/trip"
)

const cacheTimeout = 2 * time.Second

var (
	// ErrVehicleUnavailable means the vehicle did not come online within the wake budget.
	ErrVehicleUnavailable = errors.New("service: vehicle unavailable")
	// ErrLocationUnavailable means the vehicle answered without a position.
	ErrLocationUnavailable = errors.New("service: vehicle location unavailable")
	// ErrTripInProgress means the customer already holds a reserved or active trip.
	ErrTripInProgress = errors.New("service: customer already has a trip in progress")
	// ErrVehicleInUse means another customer's trip holds the vehicle.
	ErrVehicleInUse = errors.New("service: vehicle is in use")
	// ErrNoActiveTrip means there is nothing to close; it is an invalid trip state.
	ErrNoActiveTrip = fmt.Errorf("service: no trip in progress: %w", trip.ErrInvalidTripState)
)

// VehicleAPI is the part of the fleet client the tracker drives.
type VehicleAPI interface {
	IsOnline(ctx context.Context, vehicleID string) (bool, error)
	WakeUp(ctx context.Context, vehicleID string) (models.VehicleRef, error)
	VehicleData(ctx context.Context, vehicleID string) (*models.VehicleData, error)
}

// Streamer starts per-vehicle telemetry polling.
type Streamer interface {
	Start(ctx context.Context, vehicleID string, onReading func(telemetry.Reading)) *telemetry.Controller
}

// TripHistory is durable storage for trips.
type TripHistory interface {
	Save(ctx context.Context, trip *models.Trip) error
	GetByID(ctx context.Context, id, customerID string) (*models.Trip, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]models.Trip, error)
	Delete(ctx context.Context, id, customerID string) error
}

// ActiveCache mirrors trips in progress so they survive a restart.
type ActiveCache interface {
	Save(ctx context.Context, trip redisstore.ActiveTrip) error
	List(ctx context.Context) ([]redisstore.ActiveTrip, error)
	Delete(ctx context.Context, customerID string) error
}

// WakePolicy bounds how long Open waits for a sleeping vehicle.
type WakePolicy struct {
	Attempts int
	Interval time.Duration
}

type tripState struct {
	trip   models.Trip
	stream *telemetry.Controller
}

// TripTracker runs trips: reserve, open, meter every sample, close.
// Each customer holds at most one trip in progress and each vehicle serves one trip at a time.
type TripTracker struct {
	vehicles VehicleAPI
	streamer Streamer
	history  TripHistory
	cache    ActiveCache
	clock    clock.Clock
	params   trip.FareParams
	wake     WakePolicy
	newID    func() string
	recorder metrics.Recorder
	logger   *zap.Logger

	// opMu serializes lifecycle operations; mu guards trips and is never held across I/O.
	opMu  sync.Mutex
	mu    sync.RWMutex
	trips map[string]*tripState

	subsMu  sync.RWMutex
	subs    map[int]func(models.TripUpdate)
	nextSub int
}

// NewTripTracker wires the tracker. cache may be nil.
func NewTripTracker(
	vehicles VehicleAPI,
	streamer Streamer,
	history TripHistory,
	cache ActiveCache,
	clk clock.Clock,
	params trip.FareParams,
	wake WakePolicy,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *TripTracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if wake.Attempts <= 0 {
		wake.Attempts = 10
	}
	if wake.Interval <= 0 {
		wake.Interval = 2 * time.Second
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TripTracker{
		vehicles: vehicles,
		streamer: streamer,
		history:  history,
		cache:    cache,
		clock:    clk,
		params:   params,
		wake:     wake,
		newID:    uuid.NewString,
		recorder: recorder,
		logger:   logger,
		trips:    make(map[string]*tripState),
		subs:     make(map[int]func(models.TripUpdate)),
	}
}

// Restore reloads reserved and active trips from the cache and resumes streaming for the
// active ones. It runs once at startup, before any lifecycle operation.
// Cached entries that conflict with a trip already tracked are dropped.
func (t *TripTracker) Restore(ctx context.Context) (int, error) {
	if t.cache == nil {
		return 0, nil
	}
	snaps, err := t.cache.List(ctx)
	if err != nil {
		if len(snaps) == 0 {
			return 0, fmt.Errorf("service: restore trips: %w", err)
		}
		t.logger.Warn("some cached trips could not be read", zap.Error(err))
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	restored := 0
	for _, snap := range snaps {
		tr := snap.Trip.Clone()
		log := t.logger.With(zap.String("trip_id", tr.ID), zap.String("customer_id", tr.CustomerID))
		if !restorable(tr) {
			log.Warn("discarding unusable cached trip", zap.String("status", string(tr.Status)))
			t.uncacheTrip(ctx, tr.CustomerID)
			continue
		}
		if err := t.checkAvailable(tr.CustomerID, tr.VehicleID); err != nil {
			log.Warn("skipping cached trip", zap.Error(err))
			continue
		}
		if tr.Status == models.TripStatusActive {
			tr.DistanceMiles, tr.Fare = trip.Recompute(tr.Samples, tr.StartTime, t.params)
			tr.DiscountAmount, tr.FinalFare = trip.Discount(tr.Fare, tr.DiscountPercent)
		}

		st := &tripState{trip: tr}
		t.mu.Lock()
		t.trips[tr.CustomerID] = st
		t.mu.Unlock()

		if tr.Status == models.TripStatusActive {
			ctl := t.streamer.Start(context.WithoutCancel(ctx), tr.VehicleID, t.onReading(tr.CustomerID, tr.ID))
			t.mu.Lock()
			st.stream = ctl
			t.mu.Unlock()
		}
		restored++
		log.Info("trip restored", zap.String("status", string(tr.Status)), zap.Int("samples", len(tr.Samples)))
	}
	return restored, nil
}

func restorable(tr models.Trip) bool {
	if tr.ID == "" || tr.CustomerID == "" || tr.VehicleID == "" {
		return false
	}
	switch tr.Status {
	case models.TripStatusReserved:
		return true
	case models.TripStatusActive:
		return len(tr.Samples) > 0
	default:
		return false
	}
}

// Reserve holds vehicleID for customerID. Open on the same pair activates it.
func (t *TripTracker) Reserve(ctx context.Context, customerID, vehicleID string, discountPct float64) (models.Trip, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if err := t.checkAvailable(customerID, vehicleID); err != nil {
		return models.Trip{}, err
	}

	reserved := trip.New(t.newID(), customerID, vehicleID, discountPct, t.clock.Now())
	t.mu.Lock()
	t.trips[customerID] = &tripState{trip: reserved}
	t.mu.Unlock()

	t.cacheTrip(ctx, reserved)
	t.logger.Info("trip reserved",
		zap.String("trip_id", reserved.ID),
		zap.String("customer_id", customerID),
		zap.String("vehicle_id", vehicleID),
		zap.Float64("discount_percent", reserved.DiscountPercent),
	)
	t.publish(updateFor(reserved, nil))
	return reserved.Clone(), nil
}

// CancelReservation drops a reserved trip. Active trips must be closed instead.
func (t *TripTracker) CancelReservation(ctx context.Context, customerID string) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	st, ok := t.trips[customerID]
	if !ok {
		t.mu.Unlock()
		return ErrNoActiveTrip
	}
	if st.trip.Status != models.TripStatusReserved {
		t.mu.Unlock()
		return fmt.Errorf("%w: only reserved trips can be cancelled", trip.ErrInvalidTripState)
	}
	delete(t.trips, customerID)
	t.mu.Unlock()

	t.uncacheTrip(ctx, customerID)
	return nil
}

// Open starts a trip: wakes the vehicle if needed, reads the start location and begins streaming.
func (t *TripTracker) Open(ctx context.Context, customerID, vehicleID string) (models.Trip, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	var base *models.Trip
	t.mu.RLock()
	if st, ok := t.trips[customerID]; ok {
		if st.trip.Status != models.TripStatusReserved || st.trip.VehicleID != vehicleID {
			t.mu.RUnlock()
			return models.Trip{}, ErrTripInProgress
		}
		reserved := st.trip.Clone()
		base = &reserved
	}
	t.mu.RUnlock()
	if base == nil {
		if err := t.checkAvailable(customerID, vehicleID); err != nil {
			return models.Trip{}, err
		}
	}

	log := t.logger.With(zap.String("customer_id", customerID), zap.String("vehicle_id", vehicleID))
	if err := t.ensureOnline(ctx, vehicleID, log); err != nil {
		return models.Trip{}, err
	}
	first, err := t.currentSample(ctx, vehicleID)
	if err != nil {
		return models.Trip{}, err
	}

	now := t.clock.Now()
	if base == nil {
		fresh := trip.New(t.newID(), customerID, vehicleID, 0, now)
		base = &fresh
	}
	active, err := trip.Activate(*base, first, now, t.params)
	if err != nil {
		return models.Trip{}, err
	}

	st := &tripState{trip: active}
	t.mu.Lock()
	t.trips[customerID] = st
	t.mu.Unlock()

	ctl := t.streamer.Start(context.WithoutCancel(ctx), vehicleID, t.onReading(customerID, active.ID))
	t.mu.Lock()
	st.stream = ctl
	t.mu.Unlock()

	t.cacheTrip(ctx, active)
	t.recorder.RecordTripOpened()
	log.Info("trip started", zap.String("trip_id", active.ID))
	t.publish(updateFor(active, &first))
	return active.Clone(), nil
}

// Close stops streaming, appends one final sample and completes the trip.
// When the final location cannot be read the stream is restarted and the trip stays active.
// A history write failure still returns the completed trip alongside the error.
func (t *TripTracker) Close(ctx context.Context, customerID string) (models.Trip, error) {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.RLock()
	st, ok := t.trips[customerID]
	if !ok {
		t.mu.RUnlock()
		return models.Trip{}, ErrNoActiveTrip
	}
	if st.trip.Status != models.TripStatusActive {
		status := st.trip.Status
		t.mu.RUnlock()
		return models.Trip{}, fmt.Errorf("%w: cannot close a %s trip", trip.ErrInvalidTripState, status)
	}
	tripID, vehicleID, stream := st.trip.ID, st.trip.VehicleID, st.stream
	t.mu.RUnlock()

	log := t.logger.With(zap.String("trip_id", tripID), zap.String("vehicle_id", vehicleID))
	if stream != nil {
		stream.Stop()
	}

	final, err := t.currentSample(ctx, vehicleID)
	if err != nil {
		log.Warn("final location unavailable, resuming stream", zap.Error(err))
		ctl := t.streamer.Start(context.WithoutCancel(ctx), vehicleID, t.onReading(customerID, tripID))
		t.mu.Lock()
		st.stream = ctl
		t.mu.Unlock()
		return models.Trip{}, err
	}

	t.mu.Lock()
	done, err := trip.Complete(st.trip, final, t.clock.Now(), t.params)
	if err != nil {
		t.mu.Unlock()
		return models.Trip{}, err
	}
	delete(t.trips, customerID)
	t.mu.Unlock()

	t.uncacheTrip(ctx, customerID)
	t.recorder.RecordTripCompleted(done.DistanceMiles, done.Fare)
	t.publish(updateFor(done, &final))
	log.Info("trip completed",
		zap.Float64("distance_miles", done.DistanceMiles),
		zap.Float64("fare", done.Fare),
		zap.Float64("final_fare", done.FinalFare),
		zap.Int("samples", len(done.Samples)),
	)

	if err := t.history.Save(ctx, &done); err != nil {
		log.Error("failed to persist completed trip", zap.Error(err))
		return done.Clone(), fmt.Errorf("service: save trip history: %w", err)
	}
	return done.Clone(), nil
}

// ActiveTrip returns the customer's reserved or active trip.
func (t *TripTracker) ActiveTrip(customerID string) (models.Trip, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.trips[customerID]
	if !ok {
		return models.Trip{}, false
	}
	return st.trip.Clone(), true
}

// History returns the customer's stored trips, newest first.
func (t *TripTracker) History(ctx context.Context, customerID string, limit int) ([]models.Trip, error) {
	return t.history.ListByCustomer(ctx, customerID, limit)
}

// Trip returns one of the customer's trips, in progress or stored.
func (t *TripTracker) Trip(ctx context.Context, customerID, tripID string) (*models.Trip, error) {
	if cur, ok := t.ActiveTrip(customerID); ok && cur.ID == tripID {
		return &cur, nil
	}
	return t.history.GetByID(ctx, tripID, customerID)
}

// DeleteTrip removes a stored trip on the customer's request. Trips in progress cannot be deleted.
func (t *TripTracker) DeleteTrip(ctx context.Context, customerID, tripID string) error {
	if cur, ok := t.ActiveTrip(customerID); ok && cur.ID == tripID {
		return fmt.Errorf("%w: trip is still in progress", trip.ErrInvalidTripState)
	}
	return t.history.Delete(ctx, tripID, customerID)
}

// Subscribe registers fn for every trip update. The returned func unsubscribes.
// fn runs on the poll goroutine and must not block.
func (t *TripTracker) Subscribe(fn func(models.TripUpdate)) func() {
	t.subsMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.subsMu.Unlock()

	return func() {
		t.subsMu.Lock()
		delete(t.subs, id)
		t.subsMu.Unlock()
	}
}

// Shutdown stops every stream. Trips stay in memory.
func (t *TripTracker) Shutdown() {
	t.mu.RLock()
	streams := make([]*telemetry.Controller, 0, len(t.trips))
	for _, st := range t.trips {
		if st.stream != nil {
			streams = append(streams, st.stream)
		}
	}
	t.mu.RUnlock()

	for _, s := range streams {
		s.Stop()
	}
}

func (t *TripTracker) onReading(customerID, tripID string) func(telemetry.Reading) {
	return func(r telemetry.Reading) {
		t.mu.Lock()
		st, ok := t.trips[customerID]
		if !ok || st.trip.ID != tripID || st.trip.Status != models.TripStatusActive {
			t.mu.Unlock()
			return
		}
		next, err := trip.ApplySample(st.trip, r.Sample, t.params)
		if err != nil {
			t.mu.Unlock()
			t.logger.Warn("sample rejected", zap.String("trip_id", tripID), zap.Error(err))
			return
		}
		st.trip = next
		t.mu.Unlock()

		update := updateFor(next, &r.Sample)
		update.Speed = r.Speed
		update.Battery = r.Battery
		update.Climate = r.Climate
		t.publish(update)

		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		t.cacheTrip(ctx, next)
	}
}

func (t *TripTracker) checkAvailable(customerID, vehicleID string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.trips[customerID]; ok {
		return ErrTripInProgress
	}
	for _, st := range t.trips {
		if st.trip.VehicleID == vehicleID {
			return ErrVehicleInUse
		}
	}
	return nil
}

// ensureOnline wakes the vehicle and polls its state up to the wake budget.
func (t *TripTracker) ensureOnline(ctx context.Context, vehicleID string, log *zap.Logger) error {
	online, err := t.vehicles.IsOnline(ctx, vehicleID)
	if err != nil {
		return err
	}
	if online {
		return nil
	}

	log.Info("waking vehicle")
	ref, err := t.vehicles.WakeUp(ctx, vehicleID)
	if err != nil {
		return err
	}
	if ref.Online() {
		return nil
	}

	for attempt := 1; attempt <= t.wake.Attempts; attempt++ {
		timer := t.clock.NewTimer(t.wake.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}

		online, err := t.vehicles.IsOnline(ctx, vehicleID)
		if err != nil {
			log.Debug("online check failed while waking", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if online {
			log.Info("vehicle online", zap.Int("attempts", attempt))
			return nil
		}
	}
	return fmt.Errorf("%w: still offline after %d checks", ErrVehicleUnavailable, t.wake.Attempts)
}

func (t *TripTracker) currentSample(ctx context.Context, vehicleID string) (models.TelemetrySample, error) {
	data, err := t.vehicles.VehicleData(ctx, vehicleID)
	if err != nil {
		return models.TelemetrySample{}, err
	}
	loc := telemetry.ExtractLocation(data)
	if loc == nil {
		return models.TelemetrySample{}, ErrLocationUnavailable
	}
	return telemetry.Sample(*loc, t.clock.Now()), nil
}

func (t *TripTracker) publish(u models.TripUpdate) {
	t.subsMu.RLock()
	subs := make([]func(models.TripUpdate), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.subsMu.RUnlock()

	for _, fn := range subs {
		fn(u)
	}
}

func (t *TripTracker) cacheTrip(ctx context.Context, tr models.Trip) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Save(ctx, redisstore.SnapshotOf(tr)); err != nil {
		t.logger.Warn("failed to cache active trip", zap.String("trip_id", tr.ID), zap.Error(err))
	}
}

func (t *TripTracker) uncacheTrip(ctx context.Context, customerID string) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Delete(ctx, customerID); err != nil {
		t.logger.Warn("failed to delete active trip cache", zap.String("customer_id", customerID), zap.Error(err))
	}
}

func updateFor(tr models.Trip, s *models.TelemetrySample) models.TripUpdate {
	u := models.TripUpdate{
		TripID:        tr.ID,
		VehicleID:     tr.VehicleID,
		CustomerID:    tr.CustomerID,
		Status:        tr.Status,
		DistanceMiles: tr.DistanceMiles,
		Fare:          tr.Fare,
		FinalFare:     tr.FinalFare,
		At:            tr.UpdatedAt,
	}
	if s != nil {
		sample := *s
		u.Sample = &sample
	}
	return u
}
