package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/models"
)

// claimScript flips available 1 -> 0 and records ARGV[1] as owner. Returns 1 on success
// (including a repeat claim by the same owner), 0 if busy, -1 if unknown.
var claimScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'available')
if not v then return -1 end
if v == '1' then
  redis.call('HSET', KEYS[1], 'available', '0', 'owner', ARGV[1])
  return 1
end
if redis.call('HGET', KEYS[1], 'owner') == ARGV[1] then return 1 end
return 0
`)

// releaseScript frees the resource only when ARGV[1] holds it. Returns 1 if freed, 0 if not
// held by that owner, -1 if unknown.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'available') == '1' then return 0 end
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'available', '1')
redis.call('HDEL', KEYS[1], 'owner')
return 1
`)

// RedisFleet implements Fleet using Redis GEO commands for positions and a hash per
// resource for metadata. Claims run as a Lua script so the availability flip is atomic
// across coordinator replicas.
type RedisFleet struct {
	client   *redis.Client
	key      string
	speedKmh float64
}

func NewRedisFleet(client *redis.Client, key string, speedKmh float64) *RedisFleet {
	return &RedisFleet{client: client, key: key, speedKmh: speedKmh}
}

func (r *RedisFleet) Upsert(ctx context.Context, res models.Resource) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: res.Loc.Lon, Latitude: res.Loc.Lat, Name: res.ID}).Result(); err != nil {
		return fmt.Errorf("geoadd %s: %w", res.ID, err)
	}
	mk := metaKey(res.ID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, mk, map[string]interface{}{
		"tier":    int(res.Tier),
		"rating":  strconv.FormatFloat(res.Rating, 'f', -1, 64),
		"updated": time.Now().Format(time.RFC3339),
	})
	pipe.HSetNX(ctx, mk, "available", boolFlag(res.Available))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset %s: %w", res.ID, err)
	}
	return nil
}

func (r *RedisFleet) Get(ctx context.Context, id string) (models.Resource, error) {
	m, err := r.client.HGetAll(ctx, metaKey(id)).Result()
	if err != nil {
		return models.Resource{}, err
	}
	if len(m) == 0 {
		return models.Resource{}, ErrUnknownResource
	}
	res := fromMeta(id, m)
	pos, err := r.client.GeoPos(ctx, r.key, id).Result()
	if err == nil && len(pos) == 1 && pos[0] != nil {
		res.Loc = models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return res, nil
}

func (r *RedisFleet) Nearby(ctx context.Context, q Query) ([]Candidate, error) {
	radius := q.RadiusKm
	if radius <= 0 {
		radius = 50
	}
	locs, err := r.client.GeoRadius(ctx, r.key, q.Origin.Lon, q.Origin.Lat, &redis.GeoRadiusQuery{
		Radius: radius, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	pipe := r.client.Pipeline()
	metas := make([]*redis.MapStringStringCmd, len(locs))
	for i, l := range locs {
		metas[i] = pipe.HGetAll(ctx, metaKey(l.Name))
	}
	if len(locs) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("load resource meta: %w", err)
		}
	}
	out := make([]Candidate, 0, len(locs))
	for i, l := range locs {
		if q.Exclude[l.Name] {
			continue
		}
		res := fromMeta(l.Name, metas[i].Val())
		res.Loc = models.Coord{Lat: l.Latitude, Lon: l.Longitude}
		if !res.Available || res.Tier < q.MinTier {
			continue
		}
		out = append(out, Candidate{Resource: res, DistanceKm: l.Dist, ETAMinutes: eta.Minutes(l.Dist, r.speedKmh)})
	}
	SortByDistance(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *RedisFleet) Claim(ctx context.Context, id, owner string) error {
	if owner == "" {
		return ErrNoOwner
	}
	n, err := claimScript.Run(ctx, r.client, []string{metaKey(id)}, owner).Int()
	if err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return ErrUnavailable
	default:
		return ErrUnknownResource
	}
}

func (r *RedisFleet) Release(ctx context.Context, id, owner string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{metaKey(id)}, owner).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	if n < 0 {
		return ErrUnknownResource
	}
	return nil
}

func fromMeta(id string, m map[string]string) models.Resource {
	res := models.Resource{ID: id}
	if v, ok := m["tier"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			res.Tier = models.Tier(n)
		}
	}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			res.Rating = f
		}
	}
	res.Available = m["available"] == "1"
	res.ClaimedBy = m["owner"]
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			res.Updated = t
		}
	}
	return res
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func metaKey(id string) string { return "resource:meta:" + id }
