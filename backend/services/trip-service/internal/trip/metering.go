// Package trip holds the pure trip reducer and its status machine.
package trip

import (
	"math"
	"time"

	"fleetride/backend/services/trip-service/internal/models"
)

// EarthRadiusMiles is the mean Earth radius used for haversine distances.
const EarthRadiusMiles = 3958.8

// FareParams prices a trip: Base + miles*PerMile + minutes*PerMinute.
type FareParams struct {
	Base      float64 `json:"base"`
	PerMile   float64 `json:"per_mile"`
	PerMinute float64 `json:"per_minute"`
}

// DefaultFareParams are the standard rates.
func DefaultFareParams() FareParams {
	return FareParams{Base: 2.50, PerMile: 1.50, PerMinute: 0.30}
}

// Haversine returns the great-circle distance between a and b in miles.
func Haversine(a, b models.Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLng := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Distance sums the haversine legs between consecutive samples.
func Distance(samples []models.TelemetrySample) float64 {
	total := 0.0
	for i := 1; i < len(samples); i++ {
		total += Haversine(samples[i-1].Point(), samples[i].Point())
	}
	return total
}

// Fare prices distance and elapsed time. Negative elapsed time counts as zero.
func Fare(params FareParams, miles float64, elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return params.Base + miles*params.PerMile + elapsed.Minutes()*params.PerMinute
}

// Elapsed is the time from start to the latest sample timestamp.
func Elapsed(start time.Time, samples []models.TelemetrySample) time.Duration {
	latest := start
	for _, s := range samples {
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}
	return latest.Sub(start)
}

// Recompute derives distance and fare from the samples alone.
func Recompute(samples []models.TelemetrySample, start time.Time, params FareParams) (miles, fare float64) {
	miles = Distance(samples)
	return miles, Fare(params, miles, Elapsed(start, samples))
}

// Discount returns the discount amount and final fare for pct percent off fare.
// pct is clamped to [0, 100].
func Discount(fare, pct float64) (amount, final float64) {
	pct = ClampPercent(pct)
	amount = round2(fare * pct / 100)
	final = round2(fare - amount)
	if final < 0 {
		final = 0
	}
	return amount, final
}

// ClampPercent bounds a discount percentage to [0, 100].
func ClampPercent(pct float64) float64 {
	switch {
	case math.IsNaN(pct) || pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
