package redisx

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Adjustment is one KPI update. Empty keys are skipped; Avg is only
// recomputed when CountBy != 0.
type Adjustment struct {
	Marker    string // applied marker, set in the same script as the increments
	MarkerTTL time.Duration

	Revenue   string
	RevenueBy int64
	Count     string
	CountBy   int64
	Avg       string
	Refunded  string
	RefundBy  int64

	Board   string
	Member  string
	BoardBy float64
}

// marker dan semua increment dalam satu script: retry tidak pernah dobel,
// crash di tengah tidak meninggalkan separuh update
var applyScript = redis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) == false then
	return 0
end
local rev = redis.call("INCRBY", KEYS[2], ARGV[2])
if tonumber(ARGV[3]) ~= 0 then
	local cnt = redis.call("INCRBY", KEYS[3], ARGV[3])
	if cnt > 0 then
		redis.call("SET", KEYS[4], string.format("%d", math.floor(rev / cnt)))
	end
end
if tonumber(ARGV[4]) ~= 0 then
	redis.call("INCRBY", KEYS[5], ARGV[4])
end
if tonumber(ARGV[6]) ~= 0 then
	redis.call("ZINCRBY", KEYS[6], ARGV[6], ARGV[5])
end
return 1`)

// Counters exposes the atomic primitives the KPI aggregate is built on.
type Counters struct {
	rdb *redis.Client
}

func NewCounters(rdb *redis.Client) *Counters { return &Counters{rdb: rdb} }

// Apply runs adj once per marker. applied=false means the marker was
// already there and nothing changed.
func (c *Counters) Apply(ctx context.Context, adj Adjustment) (bool, error) {
	ttl := adj.MarkerTTL
	if ttl <= 0 {
		ttl = TTLKPIApplied
	}
	keys := []string{adj.Marker, adj.Revenue, adj.Count, adj.Avg, adj.Refunded, adj.Board}
	n, err := applyScript.Run(ctx, c.rdb, keys,
		ttl.Milliseconds(),
		adj.RevenueBy,
		adj.CountBy,
		adj.RefundBy,
		adj.Member,
		strconv.FormatFloat(adj.BoardBy, 'f', -1, 64),
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Counters) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *Counters) ZRevRangeWithScores(ctx context.Context, key string, n int64) ([]redis.Z, error) {
	if n <= 0 {
		return nil, nil
	}
	return c.rdb.ZRevRangeWithScores(ctx, key, 0, n-1).Result()
}
