// Package eta turns distances into arrival estimates. Estimates assume a flat average speed;
// there is no road routing.
package eta

import "math"

// DefaultSpeedKmh is the flat speed used when none is configured.
const DefaultSpeedKmh = 40.0

// Minutes converts a distance into whole minutes of travel, rounded to the nearest minute.
func Minutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}
