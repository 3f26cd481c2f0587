package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"fleetride/backend/services/trip-service/internal/metrics"
	"fleetride/backend/services/trip-service/internal/models"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 5 * time.Second

// Fetcher returns the raw vehicle_data payload for one vehicle.
type Fetcher interface {
	VehicleData(ctx context.Context, vehicleID string) (*models.VehicleData, error)
}

// Reading is one normalized poll result. Sample always has coordinates.
type Reading struct {
	VehicleID string
	Sample    models.TelemetrySample
	Speed     *float64
	Battery   *models.Battery
	Climate   *models.Climate
}

// Streamer runs at most one poll loop per vehicle.
type Streamer struct {
	fetcher  Fetcher
	clock    clock.Clock
	interval time.Duration
	recorder metrics.Recorder
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]*Controller
}

// NewStreamer builds a streamer. interval <= 0 means DefaultInterval.
func NewStreamer(fetcher Fetcher, clk clock.Clock, interval time.Duration, recorder metrics.Recorder, logger *zap.Logger) *Streamer {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{
		fetcher:  fetcher,
		clock:    clk,
		interval: interval,
		recorder: recorder,
		logger:   logger,
		active:   make(map[string]*Controller),
	}
}

// Start begins polling vehicleID, first immediately and then every interval.
// A running controller for the same vehicle is stopped first.
// onReading runs on the poll goroutine and must not call Stop on its own controller.
func (s *Streamer) Start(ctx context.Context, vehicleID string, onReading func(Reading)) *Controller {
	c := &Controller{
		vehicleID: vehicleID,
		active:    true,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if prev, ok := s.active[vehicleID]; ok {
		prev.Stop()
		s.logger.Info("superseding telemetry stream", zap.String("vehicle_id", vehicleID))
	}
	s.active[vehicleID] = c
	s.recorder.RecordActiveStreams(len(s.active))
	s.mu.Unlock()

	go s.run(ctx, c, onReading)
	return c
}

// Controller returns the running controller for vehicleID, if any.
func (s *Streamer) Controller(vehicleID string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.active[vehicleID]
	if !ok || !c.IsActive() {
		return nil, false
	}
	return c, true
}

// ActiveCount returns the number of vehicles being polled.
func (s *Streamer) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.active {
		if c.IsActive() {
			n++
		}
	}
	return n
}

// StopAll stops every controller and waits for their loops to exit.
func (s *Streamer) StopAll() {
	s.mu.Lock()
	controllers := make([]*Controller, 0, len(s.active))
	for _, c := range s.active {
		controllers = append(controllers, c)
	}
	s.mu.Unlock()

	for _, c := range controllers {
		c.Stop()
		<-c.Done()
	}
}

func (s *Streamer) run(ctx context.Context, c *Controller, onReading func(Reading)) {
	defer s.finish(c)

	log := s.logger.With(zap.String("vehicle_id", c.vehicleID))
	log.Info("telemetry stream started", zap.Duration("interval", s.interval))

	var delay time.Duration
	for {
		if delay > 0 {
			timer := s.clock.NewTimer(delay)
			select {
			case <-c.stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				c.Stop()
				return
			case <-timer.C():
			}
		}
		if !c.IsActive() {
			return
		}
		delay = s.poll(ctx, c, onReading, log)
	}
}

// poll runs one tick and returns the delay before the next one.
func (s *Streamer) poll(ctx context.Context, c *Controller, onReading func(Reading), log *zap.Logger) time.Duration {
	data, err := s.fetcher.VehicleData(ctx, c.vehicleID)
	if err != nil {
		s.recorder.RecordPoll(c.vehicleID, metrics.PollFailed)
		log.Warn("telemetry poll failed, backing off", zap.Error(err), zap.Duration("retry_in", 2*s.interval))
		return 2 * s.interval
	}

	loc := ExtractLocation(data)
	if loc == nil {
		s.recorder.RecordPoll(c.vehicleID, metrics.PollSkipped)
		log.Debug("telemetry poll without location, skipping")
		return s.interval
	}

	reading := Reading{
		VehicleID: c.vehicleID,
		Sample:    Sample(*loc, s.clock.Now()),
		Speed:     ExtractSpeed(data),
		Battery:   ExtractBattery(data),
		Climate:   ExtractClimate(data),
	}
	if !c.deliver(func() { onReading(reading) }) {
		return 0
	}
	s.recorder.RecordPoll(c.vehicleID, metrics.PollDelivered)
	return s.interval
}

func (s *Streamer) finish(c *Controller) {
	s.mu.Lock()
	if s.active[c.vehicleID] == c {
		delete(s.active, c.vehicleID)
	}
	s.recorder.RecordActiveStreams(len(s.active))
	s.mu.Unlock()

	close(c.done)
	s.logger.Info("telemetry stream stopped", zap.String("vehicle_id", c.vehicleID))
}

// Controller is the handle of one vehicle's poll loop.
type Controller struct {
	vehicleID string

	mu       sync.Mutex
	active   bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// VehicleID returns the polled vehicle.
func (c *Controller) VehicleID() string {
	return c.vehicleID
}

// IsActive reports whether readings may still be delivered.
func (c *Controller) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stop is safe at any time. A request in flight completes but its result is dropped.
// Once Stop returns no further reading is delivered.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		close(c.stop)
	})
}

// Done is closed when the poll loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) deliver(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	fn()
	return true
}
