// Package metrics exposes Prometheus counters for the fleet client, telemetry polling and trips.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the client, streamer and tracker report into.
type Recorder interface {
	RecordFleetRequest(endpoint string, status int, latency time.Duration)
	RecordTokenRefresh(success bool)
	RecordPoll(vehicleID string, outcome string)
	RecordActiveStreams(n int)
	RecordTripOpened()
	RecordTripCompleted(distanceMiles, fare float64)
}

// Poll outcomes.
const (
	PollDelivered = "delivered"
	PollSkipped   = "skipped"
	PollFailed    = "failed"
)

// Collector is the Prometheus Recorder.
type Collector struct {
	fleetRequests *prometheus.CounterVec
	fleetLatency  prometheus.Histogram
	refreshes     *prometheus.CounterVec
	polls         *prometheus.CounterVec
	activeStreams prometheus.Gauge
	tripsOpened   prometheus.Counter
	tripsDone     prometheus.Counter
	tripMiles     prometheus.Histogram
	tripFare      prometheus.Histogram
}

// NewCollector registers the trip-service metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fleetRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetride_fleet_requests_total",
			Help: "Fleet API requests by endpoint and status code.",
		}, []string{"endpoint", "status_code"}),
		fleetLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetride_fleet_request_seconds",
			Help:    "Fleet API request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetride_token_refresh_total",
			Help: "Token refresh attempts by result.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetride_telemetry_polls_total",
			Help: "Telemetry poll ticks by outcome.",
		}, []string{"outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetride_telemetry_active_streams",
			Help: "Vehicles currently being polled.",
		}),
		tripsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetride_trips_opened_total",
			Help: "Trips moved to active.",
		}),
		tripsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetride_trips_completed_total",
			Help: "Trips completed.",
		}),
		tripMiles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetride_trip_distance_miles",
			Help:    "Distance of completed trips.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
		}),
		tripFare: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetride_trip_fare",
			Help:    "Fare of completed trips before discount.",
			Buckets: []float64{5, 10, 20, 40, 80, 160},
		}),
	}

	reg.MustRegister(
		c.fleetRequests,
		c.fleetLatency,
		c.refreshes,
		c.polls,
		c.activeStreams,
		c.tripsOpened,
		c.tripsDone,
		c.tripMiles,
		c.tripFare,
	)
	return c
}

// RecordFleetRequest counts one vendor call. endpoint should be a route template, not a raw path.
func (c *Collector) RecordFleetRequest(endpoint string, status int, latency time.Duration) {
	c.fleetRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.fleetLatency.Observe(latency.Seconds())
}

// RecordTokenRefresh counts a refresh attempt.
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordPoll counts a poll tick. The vehicle id is not used as a label to keep cardinality bounded.
func (c *Collector) RecordPoll(_ string, outcome string) {
	c.polls.WithLabelValues(outcome).Inc()
}

// RecordActiveStreams sets the active stream gauge.
func (c *Collector) RecordActiveStreams(n int) {
	c.activeStreams.Set(float64(n))
}

// RecordTripOpened counts an opened trip.
func (c *Collector) RecordTripOpened() {
	c.tripsOpened.Inc()
}

// RecordTripCompleted counts a completed trip and its metering.
func (c *Collector) RecordTripCompleted(distanceMiles, fare float64) {
	c.tripsDone.Inc()
	c.tripMiles.Observe(distanceMiles)
	c.tripFare.Observe(fare)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordFleetRequest(string, int, time.Duration) {}
func (Nop) RecordTokenRefresh(bool) {}
func (Nop) RecordPoll(string, string) {}
func (Nop) RecordActiveStreams(int) {}
func (Nop) RecordTripOpened() {}
func (Nop) RecordTripCompleted(float64, float64) {}

// Handler serves the registry for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
