package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"

	"fleetride/backend/services/trip-service/internal/models"
	redisstore "fleetride/backend/services/trip-service/internal/redis"
	"fleetride/backend/services/trip-service/internal/telemetry"
	"fleetride/backend/services/trip-service/internal/trip"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeVehicles struct {
	mu sync.Mutex

	online      bool
	onlineAfter int
	checks      int
	woken       bool
	wakeErr     error
	lat, lng    float64
	step        float64
	dataCalls   int
	dataErr     error
	noLocation  bool
	onlineErr   error
}

func (f *fakeVehicles) IsOnline(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onlineErr != nil {
		return false, f.onlineErr
	}
	if f.online {
		return true, nil
	}
	if f.woken {
		f.checks++
		if f.onlineAfter > 0 && f.checks >= f.onlineAfter {
			f.online = true
		}
	}
	return f.online, nil
}

func (f *fakeVehicles) WakeUp(_ context.Context, id string) (models.VehicleRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wakeErr != nil {
		return models.VehicleRef{}, f.wakeErr
	}
	f.woken = true
	return models.VehicleRef{ID: id, State: models.VehicleStateAsleep}, nil
}

func (f *fakeVehicles) VehicleData(context.Context, string) (*models.VehicleData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataCalls++
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	if f.noLocation {
		return &models.VehicleData{State: models.VehicleStateOnline}, nil
	}
	lat, lng := f.lat, f.lng
	f.lng += f.step
	return &models.VehicleData{DriveState: &models.DriveState{Latitude: &lat, Longitude: &lng}}, nil
}

func (f *fakeVehicles) set(fn func(f *fakeVehicles)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type memoryHistory struct {
	mu      sync.Mutex
	trips   map[string]models.Trip
	saveErr error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{trips: make(map[string]models.Trip)}
}

func (h *memoryHistory) Save(_ context.Context, t *models.Trip) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.saveErr != nil {
		return h.saveErr
	}
	h.trips[t.ID] = t.Clone()
	return nil
}

func (h *memoryHistory) GetByID(_ context.Context, id, customerID string) (*models.Trip, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.trips[id]
	if !ok || t.CustomerID != customerID {
		return nil, errors.New("not found")
	}
	return &t, nil
}

func (h *memoryHistory) ListByCustomer(_ context.Context, customerID string, _ int) ([]models.Trip, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Trip
	for _, t := range h.trips {
		if t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *memoryHistory) Delete(_ context.Context, id, customerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.trips[id]; !ok || t.CustomerID != customerID {
		return errors.New("not found")
	}
	delete(h.trips, id)
	return nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]redisstore.ActiveTrip
	listErr error
}

func (c *memoryCache) Save(_ context.Context, t redisstore.ActiveTrip) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t.CustomerID] = t
	return nil
}

func (c *memoryCache) List(context.Context) ([]redisstore.ActiveTrip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]redisstore.ActiveTrip, 0, len(c.entries))
	for _, t := range c.entries {
		out = append(out, t)
	}
	return out, nil
}

func (c *memoryCache) Delete(_ context.Context, customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, customerID)
	return nil
}

func (c *memoryCache) has(customerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[customerID]
	return ok
}

type harness struct {
	clock    *testingclock.FakeClock
	vehicles *fakeVehicles
	streamer *telemetry.Streamer
	history  *memoryHistory
	cache    *memoryCache
	tracker  *TripTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := testingclock.NewFakeClock(t0)
	vehicles := &fakeVehicles{online: true, lat: 40.7128, lng: -74.0060, step: 0.001}
	streamer := telemetry.NewStreamer(vehicles, clk, 5*time.Second, nil, zap.NewNop())
	history := newMemoryHistory()
	cache := &memoryCache{entries: make(map[string]redisstore.ActiveTrip)}
	tracker := NewTripTracker(vehicles, streamer, history, cache, clk, trip.DefaultFareParams(),
		WakePolicy{Attempts: 3, Interval: 2 * time.Second}, nil, zap.NewNop())
	t.Cleanup(streamer.StopAll)
	return &harness{clock: clk, vehicles: vehicles, streamer: streamer, history: history, cache: cache, tracker: tracker}
}

func (h *harness) waitSamples(t *testing.T, customerID string, n int) models.Trip {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if tr, ok := h.tracker.ActiveTrip(customerID); ok && len(tr.Samples) >= n {
			return tr
		}
		if time.Now().After(deadline) {
			t.Fatalf("trip never reached %d samples", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitTimer(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !h.clock.HasWaiters() {
		if time.Now().After(deadline) {
			t.Fatal("no timer scheduled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOpenAndCloseTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	updates := make(chan models.TripUpdate, 64)
	unsubscribe := h.tracker.Subscribe(func(u models.TripUpdate) { updates <- u })
	defer unsubscribe()

	opened, err := h.tracker.Open(ctx, "c1", "v1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Status != models.TripStatusActive || opened.StartLocation.Latitude != 40.7128 {
		t.Fatalf("unexpected opened trip %+v", opened)
	}
	if !h.cache.has("c1") {
		t.Fatal("active trip should be cached")
	}

	// the stream polls once right away
	h.waitSamples(t, "c1", 2)
	h.waitTimer(t)
	h.clock.Step(5 * time.Second)
	h.waitSamples(t, "c1", 3)

	h.clock.Step(time.Minute)
	done, err := h.tracker.Close(ctx, "c1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if done.Status != models.TripStatusCompleted || done.EndTime == nil || done.EndLocation == nil {
		t.Fatalf("unexpected closed trip %+v", done)
	}
	last := done.Samples[len(done.Samples)-1]
	if done.EndLocation.Longitude != last.Longitude {
		t.Fatal("end location should be the final sample")
	}

	miles, fare := trip.Recompute(done.Samples, done.StartTime, trip.DefaultFareParams())
	if miles != done.DistanceMiles || fare != done.Fare {
		t.Fatalf("cached %.6f/%.6f differ from recomputed %.6f/%.6f", done.DistanceMiles, done.Fare, miles, fare)
	}

	if _, ok := h.tracker.ActiveTrip("c1"); ok {
		t.Fatal("closed trip should no longer be active")
	}
	if _, ok := h.streamer.Controller("v1"); ok {
		t.Fatal("stream should be stopped")
	}
	if h.cache.has("c1") {
		t.Fatal("cache entry should be removed")
	}
	stored, err := h.history.GetByID(ctx, done.ID, "c1")
	if err != nil || stored.Status != models.TripStatusCompleted {
		t.Fatalf("trip not persisted: %v", err)
	}

	var sawCompleted bool
	for len(updates) > 0 {
		if u := <-updates; u.Status == models.TripStatusCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("subscribers should see the completed update")
	}
}

func TestOpenWakesSleepingVehicle(t *testing.T) {
	h := newHarness(t)
	h.vehicles.set(func(f *fakeVehicles) { f.online = false; f.onlineAfter = 2 })

	result := make(chan error, 1)
	go func() {
		_, err := h.tracker.Open(context.Background(), "c1", "v1")
		result <- err
	}()

	for i := 0; i < 2; i++ {
		h.waitTimer(t)
		h.clock.Step(2 * time.Second)
	}
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not finish after the vehicle came online")
	}
}

func TestOpenFailsWhenVehicleNeverWakes(t *testing.T) {
	h := newHarness(t)
	h.vehicles.set(func(f *fakeVehicles) { f.online = false })

	result := make(chan error, 1)
	go func() {
		_, err := h.tracker.Open(context.Background(), "c1", "v1")
		result <- err
	}()
	for i := 0; i < 3; i++ {
		h.waitTimer(t)
		h.clock.Step(2 * time.Second)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrVehicleUnavailable) {
			t.Fatalf("expected ErrVehicleUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not give up")
	}
	if _, ok := h.tracker.ActiveTrip("c1"); ok {
		t.Fatal("no trip should exist after a failed open")
	}
}

func TestOpenWithoutLocation(t *testing.T) {
	h := newHarness(t)
	h.vehicles.set(func(f *fakeVehicles) { f.noLocation = true })

	if _, err := h.tracker.Open(context.Background(), "c1", "v1"); !errors.Is(err, ErrLocationUnavailable) {
		t.Fatalf("expected ErrLocationUnavailable, got %v", err)
	}
}

func TestSamplesWithoutLocationAreNotAppended(t *testing.T) {
	h := newHarness(t)
	if _, err := h.tracker.Open(context.Background(), "c1", "v1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.waitSamples(t, "c1", 2)
	h.waitTimer(t)

	h.vehicles.set(func(f *fakeVehicles) { f.noLocation = true })
	for i := 0; i < 3; i++ {
		h.clock.Step(5 * time.Second)
		h.waitTimer(t)
	}

	tr, _ := h.tracker.ActiveTrip("c1")
	if len(tr.Samples) != 2 {
		t.Fatalf("expected samples to stay at 2, got %d", len(tr.Samples))
	}
}

func TestCloseRejectsReservedTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reserved, err := h.tracker.Reserve(ctx, "c1", "v1", 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := h.tracker.Close(ctx, "c1"); !errors.Is(err, trip.ErrInvalidTripState) {
		t.Fatalf("expected ErrInvalidTripState, got %v", err)
	}
	cur, ok := h.tracker.ActiveTrip("c1")
	if !ok || cur.Status != models.TripStatusReserved || cur.ID != reserved.ID || len(cur.Samples) != 0 {
		t.Fatalf("reserved trip was modified: %+v", cur)
	}
}

func TestCloseWithoutTripIsInvalidState(t *testing.T) {
	h := newHarness(t)
	_, err := h.tracker.Close(context.Background(), "nobody")
	if !errors.Is(err, ErrNoActiveTrip) || !errors.Is(err, trip.ErrInvalidTripState) {
		t.Fatalf("expected ErrNoActiveTrip wrapping ErrInvalidTripState, got %v", err)
	}
}

func TestReservationDiscountAppliedOnClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.tracker.Reserve(ctx, "c1", "v1", 20); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := h.tracker.Open(ctx, "c2", "v1"); !errors.Is(err, ErrVehicleInUse) {
		t.Fatalf("reserved vehicle should be unavailable to others, got %v", err)
	}
	if _, err := h.tracker.Open(ctx, "c1", "v2"); !errors.Is(err, ErrTripInProgress) {
		t.Fatalf("customer with a reservation cannot open another vehicle, got %v", err)
	}

	opened, err := h.tracker.Open(ctx, "c1", "v1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.DiscountPercent != 20 {
		t.Fatalf("discount not carried over: %+v", opened)
	}
	h.waitSamples(t, "c1", 2)

	h.clock.Step(10 * time.Minute)
	done, err := h.tracker.Close(ctx, "c1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	wantAmount, wantFinal := trip.Discount(done.Fare, 20)
	if done.DiscountAmount != wantAmount || done.FinalFare != wantFinal {
		t.Fatalf("discount %.2f/%.2f, want %.2f/%.2f", done.DiscountAmount, done.FinalFare, wantAmount, wantFinal)
	}
	if done.FinalFare >= done.Fare {
		t.Fatal("final fare should be below the undiscounted fare")
	}
}

func TestCloseResumesStreamWhenFinalLocationFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.tracker.Open(ctx, "c1", "v1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.waitSamples(t, "c1", 2)

	h.vehicles.set(func(f *fakeVehicles) { f.dataErr = errors.New("timeout") })
	if _, err := h.tracker.Close(ctx, "c1"); err == nil {
		t.Fatal("expected close to fail")
	}
	cur, ok := h.tracker.ActiveTrip("c1")
	if !ok || cur.Status != models.TripStatusActive {
		t.Fatal("trip should remain active")
	}
	if _, ok := h.streamer.Controller("v1"); !ok {
		t.Fatal("stream should be running again")
	}

	h.vehicles.set(func(f *fakeVehicles) { f.dataErr = nil })
	done, err := h.tracker.Close(ctx, "c1")
	if err != nil {
		t.Fatalf("retry Close: %v", err)
	}
	if done.Status != models.TripStatusCompleted {
		t.Fatalf("unexpected status %s", done.Status)
	}
}

func TestCloseReturnsTripWhenHistoryFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.tracker.Open(ctx, "c1", "v1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.history.saveErr = errors.New("db down")

	done, err := h.tracker.Close(ctx, "c1")
	if err == nil {
		t.Fatal("expected history error")
	}
	if done.Status != models.TripStatusCompleted {
		t.Fatal("completed trip should still be returned")
	}
}

func TestOpenTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.tracker.Open(ctx, "c1", "v1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := h.tracker.Open(ctx, "c1", "v2"); !errors.Is(err, ErrTripInProgress) {
		t.Fatalf("expected ErrTripInProgress, got %v", err)
	}
	if _, err := h.tracker.Open(ctx, "c2", "v1"); !errors.Is(err, ErrVehicleInUse) {
		t.Fatalf("expected ErrVehicleInUse, got %v", err)
	}
}

func TestCancelReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.tracker.Reserve(ctx, "c1", "v1", 0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := h.tracker.CancelReservation(ctx, "c1"); err != nil {
		t.Fatalf("CancelReservation: %v", err)
	}
	if _, ok := h.tracker.ActiveTrip("c1"); ok {
		t.Fatal("reservation should be gone")
	}
	if h.cache.has("c1") {
		t.Fatal("reservation cache should be gone")
	}
}

func TestRestoreResumesTripsInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := t0.Add(-2 * time.Minute)
	running := models.Trip{
		ID:            "trip-running",
		VehicleID:     "v1",
		CustomerID:    "c1",
		Status:        models.TripStatusActive,
		StartTime:     start,
		StartLocation: models.Point{Latitude: 40.7100, Longitude: -74.0100},
		Samples: []models.TelemetrySample{
			{Latitude: 40.7100, Longitude: -74.0100, Timestamp: start},
			{Latitude: 40.7110, Longitude: -74.0080, Timestamp: start.Add(time.Minute)},
		},
		DiscountPercent: 20,
	}
	reserved := trip.New("trip-reserved", "c2", "v2", 10, t0.Add(-time.Minute))
	finished := trip.New("trip-finished", "c3", "v3", 0, start)
	finished.Status = models.TripStatusCompleted
	for _, tr := range []models.Trip{running, reserved, finished} {
		if err := h.cache.Save(ctx, redisstore.SnapshotOf(tr)); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}

	restored, err := h.tracker.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != 2 {
		t.Fatalf("expected 2 restored trips, got %d", restored)
	}
	if h.cache.has("c3") {
		t.Fatal("completed cache entry should be discarded")
	}

	// cached metering is rebuilt from the samples, then the stream keeps appending
	tr := h.waitSamples(t, "c1", 3)
	if tr.ID != "trip-running" || tr.StartTime != start || tr.StartLocation != running.StartLocation {
		t.Fatalf("restored trip lost its identity: %+v", tr)
	}
	if _, ok := h.streamer.Controller("v1"); !ok {
		t.Fatal("stream should be running for the restored trip")
	}
	if _, err := h.tracker.Open(ctx, "c4", "v1"); !errors.Is(err, ErrVehicleInUse) {
		t.Fatalf("expected ErrVehicleInUse, got %v", err)
	}

	res, ok := h.tracker.ActiveTrip("c2")
	if !ok || res.Status != models.TripStatusReserved || res.DiscountPercent != 10 {
		t.Fatalf("reservation not restored: %+v", res)
	}
	if _, ok := h.streamer.Controller("v2"); ok {
		t.Fatal("reservations should not stream")
	}

	h.clock.Step(time.Minute)
	done, err := h.tracker.Close(ctx, "c1")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if done.ID != "trip-running" || done.Samples[0] != running.Samples[0] {
		t.Fatalf("closed trip should continue the cached one: %+v", done)
	}
	miles, fare := trip.Recompute(done.Samples, done.StartTime, trip.DefaultFareParams())
	if miles != done.DistanceMiles || fare != done.Fare {
		t.Fatalf("cached %.6f/%.6f differ from recomputed %.6f/%.6f", done.DistanceMiles, done.Fare, miles, fare)
	}
	if done.FinalFare >= done.Fare {
		t.Fatalf("discount should survive the restart: fare %.2f final %.2f", done.Fare, done.FinalFare)
	}
}

func TestRestoreSkipsTripsAlreadyTracked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.tracker.Reserve(ctx, "c1", "v1", 0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	stale := trip.New("trip-stale", "c9", "v1", 0, t0)
	if err := h.cache.Save(ctx, redisstore.SnapshotOf(stale)); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	restored, err := h.tracker.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored != 0 {
		t.Fatalf("expected nothing restored, got %d", restored)
	}
	if _, ok := h.tracker.ActiveTrip("c9"); ok {
		t.Fatal("conflicting trip should not be restored")
	}
}

func TestRestoreReportsUnreadableCache(t *testing.T) {
	h := newHarness(t)
	h.cache.listErr = errors.New("connection refused")

	restored, err := h.tracker.Restore(context.Background())
	if err == nil || restored != 0 {
		t.Fatalf("expected an error and nothing restored, got %d, %v", restored, err)
	}
}
