package geo

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/models"
)

var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnavailable     = errors.New("resource unavailable")
	ErrNoOwner         = errors.New("claim owner is required")
)

// Query selects resources for a broadcast.
type Query struct {
	Origin   models.Coord
	RadiusKm float64
	MinTier  models.Tier
	Limit    int
	Exclude  map[string]bool
}

// Candidate is a resource decorated with its distance to the query origin.
type Candidate struct {
	Resource   models.Resource `json:"resource"`
	DistanceKm float64         `json:"distance_km"`
	ETAMinutes int             `json:"eta_minutes"`
}

// Fleet is the shared view of resource positions and availability.
// Claim must be an atomic compare-and-set on the availability flag that records the owner.
// Claiming again for the same owner succeeds, so a caller that lost the reply can retry.
// Release only frees a resource held by owner; anything else is a no-op.
type Fleet interface {
	Upsert(ctx context.Context, r models.Resource) error
	Get(ctx context.Context, id string) (models.Resource, error)
	Nearby(ctx context.Context, q Query) ([]Candidate, error)
	Claim(ctx context.Context, id, owner string) error
	Release(ctx context.Context, id, owner string) error
}

// Index is the in-memory Fleet.
type Index struct {
	mu        sync.RWMutex
	resources map[string]models.Resource
	speedKmh  float64
}

func NewIndex(speedKmh float64) *Index {
	return &Index{resources: make(map[string]models.Resource), speedKmh: speedKmh}
}

// Upsert stores position and metadata. Availability of a known resource is owned by
// Claim/Release and is not overwritten by location pings.
func (g *Index) Upsert(_ context.Context, r models.Resource) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.resources[r.ID]; ok {
		r.Available = cur.Available
		r.ClaimedBy = cur.ClaimedBy
	} else {
		r.ClaimedBy = ""
	}
	r.Updated = time.Now()
	g.resources[r.ID] = r
	return nil
}

func (g *Index) Get(_ context.Context, id string) (models.Resource, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.resources[id]
	if !ok {
		return models.Resource{}, ErrUnknownResource
	}
	return r, nil
}

// naive scan; fine for a regional fleet
func (g *Index) Nearby(_ context.Context, q Query) ([]Candidate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Candidate, 0, len(g.resources))
	for _, r := range g.resources {
		if !r.Available || r.Tier < q.MinTier || q.Exclude[r.ID] {
			continue
		}
		d := DistanceKm(q.Origin, r.Loc)
		if q.RadiusKm > 0 && d > q.RadiusKm {
			continue
		}
		out = append(out, Candidate{Resource: r, DistanceKm: d, ETAMinutes: eta.Minutes(d, g.speedKmh)})
	}
	SortByDistance(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (g *Index) Claim(_ context.Context, id, owner string) error {
	if owner == "" {
		return ErrNoOwner
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.resources[id]
	if !ok {
		return ErrUnknownResource
	}
	if !r.Available {
		if r.ClaimedBy == owner {
			return nil
		}
		return ErrUnavailable
	}
	r.Available = false
	r.ClaimedBy = owner
	g.resources[id] = r
	return nil
}

func (g *Index) Release(_ context.Context, id, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.resources[id]
	if !ok {
		return ErrUnknownResource
	}
	if r.Available || r.ClaimedBy != owner {
		return nil
	}
	r.Available = true
	r.ClaimedBy = ""
	g.resources[id] = r
	return nil
}

// SortByDistance orders candidates nearest first; equal distances fall back to id.
func SortByDistance(c []Candidate) {
	// insertion sort keeps this allocation free for the small sets we scan
	for i := 1; i < len(c); i++ {
		key := c[i]
		j := i - 1
		for j >= 0 && less(key, c[j]) {
			c[j+1] = c[j]
			j--
		}
		c[j+1] = key
	}
}

func less(a, b Candidate) bool {
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	return a.Resource.ID < b.Resource.ID
}

// DistanceKm is the great-circle distance between two coordinates in kilometres.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
