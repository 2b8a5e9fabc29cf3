package coordinator

import (
	"math"

	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

var priorityMultiplier = map[models.Priority]float64{
	models.PriorityCritical: 1.5,
	models.PriorityHigh:     1.25,
}

// quoteFare prices a trip in minor currency units. Without a destination only the base fare applies.
func quoteFare(base, perKm int64, p models.Priority, pickup models.Coord, dest *models.Coord) int64 {
	km := 0.0
	if dest != nil {
		km = geo.DistanceKm(pickup, *dest)
	}
	m, ok := priorityMultiplier[p]
	if !ok {
		m = 1
	}
	return int64(math.Round((float64(base) + float64(perKm)*km) * m))
}
