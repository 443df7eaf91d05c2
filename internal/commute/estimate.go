package commute

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0

	// FallbackSpeedKmh is the assumed average urban driving speed.
	FallbackSpeedKmh = 30.0

	// FallbackAllowanceSeconds covers stops and traffic lights.
	FallbackAllowanceSeconds = 120.0

	// MaxUsableSeconds bounds a usable duration; anything longer is not a commute.
	MaxUsableSeconds = float64(math.MaxInt32)

	// DefaultIdealRatio models the free-flow baseline as a share of the current estimate.
	DefaultIdealRatio = 0.85
)

// Classification thresholds in minutes over the ideal baseline.
const (
	redThreshold = 5
)

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(a, b Coordinate) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// FallbackSeconds estimates the drive in seconds from straight-line distance.
// It is pure and cannot fail.
func FallbackSeconds(origin, destination Coordinate) float64 {
	km := HaversineKm(origin, destination)
	return km/FallbackSpeedKmh*3600 + FallbackAllowanceSeconds
}

// SecondsToMinutes rounds a duration in seconds to whole minutes, never negative.
func SecondsToMinutes(seconds float64) int {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	if seconds > MaxUsableSeconds {
		seconds = MaxUsableSeconds
	}
	return int(math.Round(seconds / 60))
}

// Delta returns currentMinutes minus the ideal baseline round(currentMinutes*ratio).
func Delta(currentMinutes int, ratio float64) int {
	ideal := int(math.Round(float64(currentMinutes) * ratio))
	return currentMinutes - ideal
}

// Classify maps a delta in minutes to the middle sector status and its label.
func Classify(diff int) (Status, string) {
	switch {
	case diff > redThreshold:
		return StatusRed, fmt.Sprintf("+%dm", diff)
	case diff > 0:
		return StatusYellow, fmt.Sprintf("+%dm", diff)
	default:
		if diff < 0 {
			diff = -diff
		}
		return StatusPurple, fmt.Sprintf("-%dm", diff)
	}
}
